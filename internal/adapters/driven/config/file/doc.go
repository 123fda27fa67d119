// Package file provides file-based implementations of driven port interfaces.
//
// Adapters:
//   - SourceManifest: declared sources read from a TOML or YAML file
package file
