package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/meshsync-dev/meshsync/internal/config"
	"github.com/meshsync-dev/meshsync/internal/errors"
)

func initCmd() *cobra.Command {
	var (
		app   string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a default meshsync.json",
		Long: `Write a meshsync.json with default settings to the given
directory (default: current directory).

Examples:
  meshsync init --app=ws://localhost:7000/sync
  meshsync init deploy/ --app=wss://app.example.com/sync`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return runInit(dir, app, force)
		},
	}

	cmd.Flags().StringVarP(&app, "app", "a", "", "Application WebSocket endpoint")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing meshsync.json")

	return cmd
}

func runInit(dir, app string, force bool) error {
	if config.Exists(dir) && !force {
		return errors.Newf(errors.CategoryCLI,
			"meshsync.json already exists in %s", dir).
			WithSuggestion("Pass --force to overwrite it")
	}

	cfg := config.New()
	cfg.App.Endpoint = app

	path := filepath.Join(dir, config.ConfigFileName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := cfg.SaveTo(path); err != nil {
		return err
	}

	success("Wrote %s", path)
	if app == "" {
		info("Set app.endpoint before running 'meshsync serve'")
	}
	return nil
}
