// Command strand runs the conversational engine.
//
// Usage:
//
//	strand serve --config strand.yaml
//	strand serve --model gpt-4o
//	strand chat --server http://localhost:8000
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"
	"golang.org/x/term"

	"github.com/strandlabs/strand"
	"github.com/strandlabs/strand/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP server."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Generate the JSON Schema for the configuration."`
	Chat     ChatCmd     `cmd:"" help:"Chat interactively with a running server."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level: debug, info, warn, error (default info)."`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format: simple or verbose (default simple)."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	info := strand.GetVersion()
	info.Version = buildVersion()
	fmt.Println(info.String())
	return nil
}

func buildVersion() string {
	version := strand.Version
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	return version
}

// printBanner prints a colored ASCII banner when stdout is a terminal.
func printBanner() {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return
	}

	// Indigo: #6366f1 = RGB(99, 102, 241)
	color := "\033[38;2;99;102;241m"
	reset := "\033[0m"

	banner := `
███████╗████████╗██████╗  █████╗ ███╗   ██╗██████╗
██╔════╝╚══██╔══╝██╔══██╗██╔══██╗████╗  ██║██╔══██╗
███████╗   ██║   ██████╔╝███████║██╔██╗ ██║██║  ██║
╚════██║   ██║   ██╔══██╗██╔══██║██║╚██╗██║██║  ██║
███████║   ██║   ██║  ██║██║  ██║██║ ╚████║██████╔╝
╚══════╝   ╚═╝   ╚═╝  ╚═╝╚═╝  ╚═╝╚═╝  ╚═══╝╚═════╝
`
	fmt.Printf("%s%s%s\n", color, banner, reset)
}

// shouldSkipBanner reports whether an informational command is being run.
func shouldSkipBanner(args []string) bool {
	if len(args) < 2 {
		return false
	}
	for _, arg := range args[1:] {
		switch arg {
		case "version", "validate", "schema", "chat":
			return true
		}
	}
	return false
}

func main() {
	if !shouldSkipBanner(os.Args) {
		printBanner()
	}

	// Reject mixed --config and zero-config flags before kong parsing so
	// the error message stays readable.
	if !ShouldSkipValidation(os.Args) {
		if err := ValidateConfigMutualExclusivity(os.Args); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("strand"),
		kong.Description("Strand - conversational AI backend engine"),
		kong.UsageOnError(),
	)

	cleanup, err := initLogger(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
