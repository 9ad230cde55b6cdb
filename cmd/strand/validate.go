package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/strandlabs/strand/pkg/config"
)

// ValidateCmd validates a configuration file. Loading already applies
// defaults, expands environment variables and runs validation, so a clean
// load means a usable config.
type ValidateCmd struct {
	Config      string `arg:"" name:"config" help:"Configuration file path." placeholder:"PATH"`
	Format      string `short:"f" help:"Output format: compact, verbose, json." default:"compact" enum:"compact,verbose,json"`
	PrintConfig bool   `short:"p" name:"print-config" help:"Print the expanded configuration after validation."`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, loader, err := config.LoadConfigFile(context.Background(), c.Config)
	if err != nil {
		return printLoadError(c.Format, c.Config, err)
	}
	defer loader.Close()

	if c.PrintConfig {
		return printExpandedConfig(c.Format, c.Config, cfg)
	}

	printSuccess(c.Format, c.Config)
	return nil
}

// ValidationError is a single failure in JSON output.
type ValidationError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type validationOutput struct {
	Valid  bool              `json:"valid"`
	File   string            `json:"file"`
	Errors []ValidationError `json:"errors,omitempty"`
}

func printLoadError(format, file string, err error) error {
	switch format {
	case "json":
		printJSONResult(false, file, []ValidationError{{Type: "load", Message: err.Error()}})
	case "verbose":
		fmt.Fprintf(os.Stderr, "Configuration Error\n")
		fmt.Fprintf(os.Stderr, "===================\n\n")
		fmt.Fprintf(os.Stderr, "File:   %s\n", file)
		fmt.Fprintf(os.Stderr, "Error:  %s\n", err.Error())
	default:
		fmt.Fprintf(os.Stderr, "%s: %s\n", file, err.Error())
	}
	return fmt.Errorf("config validation failed")
}

func printSuccess(format, file string) {
	switch format {
	case "json":
		printJSONResult(true, file, nil)
	case "verbose":
		fmt.Printf("Configuration Valid\n")
		fmt.Printf("===================\n\n")
		fmt.Printf("File:   %s\n", file)
		fmt.Printf("Status: all checks passed\n")
	default:
		fmt.Printf("%s: valid\n", file)
	}
}

func printExpandedConfig(format, file string, cfg *config.Config) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		fmt.Println(string(data))
	default:
		fmt.Printf("# %s (expanded)\n", file)
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		if err := enc.Close(); err != nil {
			return err
		}
	}
	return nil
}

func printJSONResult(valid bool, file string, errors []ValidationError) {
	out := validationOutput{Valid: valid, File: file, Errors: errors}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal result: %v\n", err)
		return
	}
	fmt.Println(string(data))
}
