package commands

import (
	"github.com/spf13/cobra"

	"github.com/spherical/prd-testgen/cmd/testgen/ui"
	"github.com/spherical/prd-testgen/internal/config"
	"github.com/spherical/prd-testgen/internal/observability"
)

var (
	cfgFile   string
	serverURL string
	verbose   bool
	noColor   bool

	cfg    *config.Config
	logger *observability.Logger
)

var rootCmd = &cobra.Command{
	Use:   "testgen",
	Short: "Generate functional test cases from product requirement documents",
	Long: `testgen reads a PRD from Feishu, an uploaded file or plain text, plans test
scenarios per functional module and writes structured test cases.

Commands run the pipeline in-process by default. With --server they call a
running testgen-api instead.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.InitUI(noColor, verbose)

		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		logger = newLogger(cfg)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "testgen-api base URL; empty runs locally")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
