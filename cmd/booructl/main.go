package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tamakara/bakabooru/internal/app"
	"github.com/tamakara/bakabooru/internal/config"
	"github.com/tamakara/bakabooru/internal/log"
)

type cli struct {
	verbose bool
	infra   *app.Infra
}

func (c *cli) open(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	level := "warn"
	if c.verbose {
		level = "debug"
	}
	logger := log.New(cfg.Environment, level)

	infra, err := app.Open(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	c.infra = infra
	return nil
}

func (c *cli) close(*cobra.Command, []string) {
	if c.infra != nil {
		c.infra.Close()
	}
}

func rootCommand() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:               "booructl",
		Short:             "Operate a bakabooru deployment",
		SilenceUsage:      true,
		PersistentPreRunE: c.open,
		PersistentPostRun: c.close,
	}
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		tasksCommand(c),
		searchCommand(c),
		settingsCommand(c),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
