package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// writeStructured writes v as JSON or YAML when the output flag asks for
// it and reports whether it did.
func writeStructured(w io.Writer, v interface{}) (bool, error) {
	switch outputFormat {
	case "", "table":
		return false, nil
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return true, enc.Encode(v)
	default:
		return false, fmt.Errorf("unsupported output format: %s", outputFormat)
	}
}
