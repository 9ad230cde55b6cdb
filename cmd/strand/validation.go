package main

import (
	"fmt"
	"strings"
)

// zeroConfigFlagNames are the serve flags that drive zero-config mode.
// They cannot be combined with --config.
var zeroConfigFlagNames = []string{
	"--provider",
	"--model",
	"--api-key",
	"--base-url",
	"--kb-dir",
	"--observe",
}

// booleanFlags take no value argument.
var booleanFlags = map[string]bool{
	"--observe": true,
}

// ValidateConfigMutualExclusivity rejects mixing --config with zero-config
// flags. Runs before kong parsing so the error message stays readable.
func ValidateConfigMutualExclusivity(args []string) error {
	hasConfig := false
	var zeroConfigFlags []string

	for i, arg := range args {
		if arg == "--config" || arg == "-c" ||
			strings.HasPrefix(arg, "--config=") || strings.HasPrefix(arg, "-c=") {
			hasConfig = true
			continue
		}

		for _, zcFlag := range zeroConfigFlagNames {
			var matched bool
			var value string

			if strings.HasPrefix(arg, zcFlag+"=") {
				matched = true
				parts := strings.SplitN(arg, "=", 2)
				if len(parts) == 2 {
					value = parts[1]
				}
			} else if arg == zcFlag {
				matched = true
				if booleanFlags[zcFlag] {
					value = "true"
				} else if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
					value = args[i+1]
				}
			}

			if matched {
				if zcFlag == "--api-key" && value != "" {
					value = "[REDACTED]"
				}
				zeroConfigFlags = append(zeroConfigFlags, fmt.Sprintf("%s=%s", zcFlag, value))
				break
			}
		}
	}

	if hasConfig && len(zeroConfigFlags) > 0 {
		return buildMutualExclusivityError(zeroConfigFlags)
	}
	return nil
}

func buildMutualExclusivityError(flags []string) error {
	var sb strings.Builder
	sb.WriteString("\nERROR: --config cannot be combined with zero-config flags.\n\n")
	sb.WriteString("Detected zero-config flags:\n")
	for _, flag := range flags {
		sb.WriteString(fmt.Sprintf("  - %s\n", flag))
	}
	sb.WriteString("\nChoose one approach:\n")
	sb.WriteString("  1. Config file mode:  strand serve --config strand.yaml\n")
	sb.WriteString("  2. Zero-config mode:  strand serve --model gpt-4o\n")
	return fmt.Errorf("%s", sb.String())
}

// ShouldSkipValidation reports whether the invoked command takes no
// zero-config flags, making the mutual-exclusivity check irrelevant.
func ShouldSkipValidation(args []string) bool {
	skipCommands := []string{"version", "validate", "schema", "chat", "help", "--help", "-h"}
	for _, arg := range args {
		for _, skip := range skipCommands {
			if arg == skip {
				return true
			}
		}
	}
	return false
}
