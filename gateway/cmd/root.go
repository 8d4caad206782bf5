package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/julienstroheker/HexRelay/internal/config"
	"github.com/julienstroheker/HexRelay/internal/logging"
	"github.com/spf13/cobra"
)

// Process exit codes
const (
	ExitOK              = 0
	ExitFailure         = 1 // configuration error or fatal bind failure
	ExitShutdownFailure = 2 // shutdown itself failed or was interrupted
)

var (
	cfg         *config.Config
	logger      *logging.Logger
	verboseFlag bool
	jsonFlag    bool
	configFlag  string
)

var rootCmd = &cobra.Command{
	Use:   "hexrelay",
	Short: "HexRelay TCP relay",
	Long: `hexrelay - forwards TCP connections from local ports to services.

Static listeners forward to a fixed service. Dynamic listeners forward each
client to the service host of the static listener it last connected through.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Load configuration
		cfg = config.Load()
		if configFlag != "" {
			cfg.ConfigFile = configFlag
		}

		// Determine log level
		level := logging.ParseLevel(cfg.LogLevel)
		if verboseFlag {
			level = logging.DebugLevel
		}

		// Determine format
		format := logging.FormatConsole
		if jsonFlag {
			format = logging.FormatJSON
		}

		logger = logging.NewWithFormat(level, format)
		logger.Debug("Logger initialized",
			logging.String("level", level.String()),
			logging.String("format", format.String()),
		)

		if cfg.ConfigFile != "" {
			if err := cfg.LoadFile(cfg.ConfigFile); err != nil {
				return exitWith(ExitFailure, err)
			}
			logger.Info("Configuration loaded", logging.String("file", cfg.ConfigFile))
		}
		return nil
	},
}

func init() {
	// Disable default completion and help commands
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose logging (debug level)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "YAML pool file (overrides HEXRELAY_CONFIG)")
}

// exitError carries the process exit code for a failed command
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func exitWith(code int, err error) error {
	return &exitError{code: code, err: err}
}

// ExitCode maps a command error to the process exit code
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return ExitFailure
}

// Execute runs the root command and exits with the matching code
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(ExitCode(err))
}
