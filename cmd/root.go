package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/covid-loader/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "covid-loader",
	Short: "Load wide-format COVID-19 extracts into normalized facts",
	Long:  "Reads scraped CSV, XLSX and ZIP extracts, classifies each row into its demographic group and stores one fact per measurement.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
