package main

import (
	"fmt"
	"os"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Endgame-Trainer/internal/config"
	"github.com/park285/Cheese-Endgame-Trainer/internal/obslog"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "endgame-trainer",
		Short: "Practise chess endgames against tablebase-perfect defence",
		Long: heredoc.Doc(`endgame-trainer drills won and drawn endgames of up to seven
			pieces. Every move is graded against the online tablebase; a
			move that throws away the result is rejected and explained.

			Configuration is read from $XDG_CONFIG_HOME/endgame-trainer/config.yaml
			(or --config) and then overridden by environment variables.`),
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "path to config.yaml")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override LOG_LEVEL")

	root.AddCommand(serveCmd(g), probeCmd(g), playCmd(g))
	return root
}

// setup loads config and installs the global logger.
func (g *globalFlags) setup(console bool) (*config.AppConfig, *zap.Logger, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("config error: %w", err)
	}
	opts := obslog.OptionsFromEnv()
	if g.logLevel != "" {
		opts.Level = g.logLevel
	}
	if !console {
		// interactive commands keep the terminal for the board
		opts.Console = false
		opts.ToFile = true
	}
	logger, err := obslog.Init(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("logger init: %w", err)
	}
	return cfg, logger, nil
}
