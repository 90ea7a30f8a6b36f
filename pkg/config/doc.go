// Package config loads the plugsift configuration.
//
// # Formats
//
// Configuration files are YAML (.yaml, .yml) or CUE (.cue). CUE files are
// unified with the embedded #Config schema, which also supplies defaults,
// and must be concrete after unification. YAML files are decoded over
// Default(). Both paths finish with struct-tag validation.
//
// # Usage Example
//
//	cfg, err := config.Load("plugsift.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.Timing.Timeout())
//
// Relative paths in a file are resolved against the file's directory.
package config
