package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/strandlabs/strand/pkg/config"
)

// SchemaCmd prints the JSON Schema for the configuration file format.
type SchemaCmd struct {
	Compact bool `short:"c" help:"Compact output (no indentation)."`
}

func (c *SchemaCmd) Run(cli *CLI) error {
	data, err := config.JSONSchema()
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	if c.Compact {
		var buf bytes.Buffer
		if err := json.Compact(&buf, data); err != nil {
			return fmt.Errorf("failed to compact schema: %w", err)
		}
		data = buf.Bytes()
	}

	if _, err := os.Stdout.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}
