package plugin_test

import (
	"fmt"

	"github.com/plugsift/plugsift/pkg/plugin"
)

func ExampleNormalize() {
	required := plugin.Names("Oblivion.esm")
	safe := plugin.Names("Knights.esp")
	batch := plugin.Names("knights.esp", "Cobl Main.esm")

	order := plugin.Normalize(required, nil, safe, batch)
	fmt.Println(plugin.Strings(order))
	// Output: [Oblivion.esm Knights.esp Cobl Main.esm]
}

func ExampleStepSize() {
	fmt.Println(plugin.StepSize(10), plugin.StepSize(4), plugin.StepSize(120))
	// Output: 3 1 15
}
