package cli

import (
	"io"

	"github.com/soyeahso/xiaoji/internal/config"
	"github.com/soyeahso/xiaoji/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
	logFile  string

	// loaded at init time
	paths     config.Paths
	cfg       config.Config
	cfgErr    error
	log       *logging.Logger
	logCloser io.Closer
)

// defaultLogFile marks --log-file given without a value.
const defaultLogFile = "-"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "xiaoji",
		Short: "Parking assistant chat proxy and terminal widget",
		Long:  "xiaoji serves the 集美发展集团 parking assistant chat widget and proxies it to the Qianfan app conversation API.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}
			if err := config.LoadDotEnv(paths.DotEnvFiles()...); err != nil {
				return err
			}

			// A broken config still lets status/version/config run.
			cfg, cfgErr = config.Load(paths.Config)
			if cfgErr != nil {
				cfg = config.Defaults()
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			switch logFile {
			case "":
			case defaultLogFile:
				cfg.Logging.File = paths.LogFile()
			default:
				cfg.Logging.File = logFile
			}

			log, logCloser, err = logging.Open(logging.Options{
				Level: cfg.Logging.Level,
				Style: cfg.Logging.ConsoleStyle,
				File:  cfg.Logging.File,
			})
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if logCloser != nil {
				return logCloser.Close()
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.xiaoji/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, silent)")
	cmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also append JSON logs to this file (bare flag: ~/.xiaoji/logs/xiaoji.log)")
	cmd.PersistentFlags().Lookup("log-file").NoOptDefVal = defaultLogFile

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// loadedConfig returns the config read by the root command, or the load error.
func loadedConfig() (config.Config, error) {
	return cfg, cfgErr
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
