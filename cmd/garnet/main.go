// Garnet CLI - runs, inspects and traces compiled Garnet programs.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/chazu/garnet/manifest"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("garnet.cli")

var rootCmd = &cobra.Command{
	Use:   "garnet",
	Short: "Garnet bytecode VM",
	Long: `Garnet runs compiled instruction sequences (.gbc files) on a VM with
inline call caches, refinements and keyword arguments.`,
	SilenceErrors:     true,
	SilenceUsage:      true,
	PersistentPreRunE: configure,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(disasmCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(exampleCmd)
	rootCmd.AddCommand(initCmd)

	// Global flags
	rootCmd.PersistentFlags().CountP("verbose", "v", "increase log verbosity (repeatable)")
	rootCmd.PersistentFlags().String("log-file", "", "write logs to a file instead of stderr")
	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().StringP("dir", "C", ".", "directory to search for garnet.toml")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		reportError(err)
		os.Exit(1)
	}
}

// configure applies color and logging settings before any command runs.
// Flags override the [log] section of garnet.toml.
func configure(cmd *cobra.Command, args []string) error {
	flags := cmd.Root().PersistentFlags()

	mode, err := flags.GetString("color")
	if err != nil {
		return fmt.Errorf("failed to get color flag: %w", err)
	}
	switch mode {
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	case "auto":
	default:
		return fmt.Errorf("invalid --color value %q (auto|on|off)", mode)
	}

	m, err := loadManifest(cmd)
	if err != nil {
		return err
	}

	verbosity, err := flags.GetCount("verbose")
	if err != nil {
		return fmt.Errorf("failed to get verbose flag: %w", err)
	}
	logFile, err := flags.GetString("log-file")
	if err != nil {
		return fmt.Errorf("failed to get log-file flag: %w", err)
	}
	if m != nil {
		if !flags.Changed("verbose") {
			verbosity = m.Log.Verbosity
		}
		if logFile == "" {
			logFile = m.Log.File
		}
	}

	var path *string
	if logFile != "" {
		path = &logFile
	}
	commonlog.Configure(verbosity, path)
	return nil
}

// loadManifest finds garnet.toml from the --dir flag. It returns nil when
// there is none.
func loadManifest(cmd *cobra.Command) (*manifest.Manifest, error) {
	dir, err := cmd.Root().PersistentFlags().GetString("dir")
	if err != nil {
		return nil, fmt.Errorf("failed to get dir flag: %w", err)
	}
	return manifest.FindAndLoad(dir)
}

var (
	errorColor = color.New(color.FgRed, color.Bold)
	traceColor = color.New(color.Faint)
	headColor  = color.New(color.FgCyan, color.Bold)
	hotColor   = color.New(color.FgYellow)
)

// exitError carries a program failure that has already been reported.
type exitError struct{}

func (exitError) Error() string { return "program failed" }

func reportError(err error) {
	if errors.Is(err, exitError{}) {
		return
	}
	errorColor.Fprint(os.Stderr, "error: ")
	fmt.Fprintln(os.Stderr, err)
}
