package orderfile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/plugsift/plugsift/pkg/plugin"
)

func TestAssemble(t *testing.T) {
	current := Parse([]byte("## This file was automatically generated by Vortex. Do not edit this file.\n" +
		"Zed.esp\n" +
		"Knights.esp\n" +
		"Oblivion.esm\n" +
		"Broken.esp\n" +
		"UOR Patch.esp\n" +
		"#Old.esp #REMOVED BY PLUGSIFT (2025-01-01 10:00:00)\n"))

	now := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	got := Assemble(Assembly{
		Current:   current,
		Required:  plugin.Names("Oblivion.esm", "Knights.esp", "DLCOrrery.esp"),
		Optional:  plugin.Names("UOR Patch.esp"),
		Failed:    plugin.Names("Broken.esp", "Old.esp"),
		Now:       now,
		RemovedAt: now.Add(-time.Hour),
	})

	assert.Equal(t, []string{
		"## This file was automatically generated by Vortex. Do not edit this file.",
		"",
		"##PLUGSIFT ENFORCED ORDER (2025-06-01 12:30:00)##",
		"",
		"Oblivion.esm",
		"Knights.esp",
		"UOR Patch.esp",
		"Zed.esp",
		"",
		"#AltarGymNavigation.esp",
		"#TamrielLeveledRegion.esp",
		"",
		"##REMOVED PLUGINS##",
		"#Old.esp #REMOVED BY PLUGSIFT (2025-01-01 10:00:00)",
		"#Broken.esp #REMOVED BY PLUGSIFT (2025-06-01 11:30:00)",
	}, got)
}

func TestAssemble_DefaultHeader(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	got := Assemble(Assembly{
		Current: Parse([]byte("A.esp\n")),
		Marker:  "OBBPD",
		Pinned:  []string{},
		Now:     now,
	})
	assert.Equal(t, []string{
		DefaultManagerHeader,
		"",
		"##OBBPD ENFORCED ORDER (2025-06-01 12:30:00)##",
		"",
		"A.esp",
		"",
		"",
		RemovedHeading,
	}, got)
}

func TestInterim(t *testing.T) {
	original := Parse([]byte("# header\n" +
		"B.esp\n" +
		"\n" +
		"Broken.esp\n" +
		"A.esp\n" +
		"Untested.esp\n"))

	now := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	got := Interim(original,
		plugin.Names("Base.esm"), nil,
		plugin.Names("A.esp", "B.esp"),
		plugin.Names("Broken.esp"),
		"", now)

	assert.Equal(t, []string{
		"# header",
		"B.esp",
		"",
		"A.esp",
		"Base.esm",
		"",
		RemovedHeading,
		"#Broken.esp #REMOVED BY PLUGSIFT (2025-06-01 12:30:00)",
	}, got)
}

func TestInterim_ReusesRemovedHeading(t *testing.T) {
	original := Parse([]byte("A.esp\n" +
		"Broken.esp\n" +
		"\n" +
		"##REMOVED PLUGINS##\n" +
		"#Old.esp #REMOVED BY PLUGSIFT (2025-05-01 21:00:00)\n"))

	now := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	got := Interim(original, nil, nil,
		plugin.Names("A.esp"),
		plugin.Names("Broken.esp", "Old.esp"),
		"", now)

	assert.Equal(t, []string{
		"A.esp",
		"",
		RemovedHeading,
		"#Old.esp #REMOVED BY PLUGSIFT (2025-05-01 21:00:00)",
		"#Broken.esp #REMOVED BY PLUGSIFT (2025-06-01 12:30:00)",
	}, got)
}

func TestInterim_NoFailuresNoHeading(t *testing.T) {
	original := Parse([]byte("A.esp\nB.esp\n"))
	got := Interim(original, nil, nil, plugin.Names("A.esp", "B.esp"), nil, "", time.Now())
	assert.Equal(t, []string{"A.esp", "B.esp"}, got)
}
