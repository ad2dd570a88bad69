package cli

import (
	"encoding/json"
	"fmt"
)

// outputJSON writes v as indented JSON to stdout, for every command's
// --json output mode.
func (c *CLI) outputJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("cli: marshal JSON output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
