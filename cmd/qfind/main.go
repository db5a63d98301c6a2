package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/localsearch/qfind/internal/config"
	"github.com/localsearch/qfind/internal/control"
	"github.com/localsearch/qfind/internal/version"
)

func loadConfigWithOverrides(c *cli.Context) (*config.Config, error) {
	dataDir := c.String("data-dir")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default data dir: %w", err)
		}
		dataDir = filepath.Join(home, ".qfind")
	}

	projectRoot := c.String("config-root")
	if projectRoot == "" {
		projectRoot = "."
	}

	cfg, err := config.Load(projectRoot, dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if excludeFlags := c.StringSlice("exclude"); len(excludeFlags) > 0 {
		cfg.Exclude = append(cfg.Exclude, excludeFlags...)
	}
	return cfg, nil
}

func openPlane(c *cli.Context) (*control.Plane, error) {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return nil, err
	}
	return control.Open(cfg)
}

func main() {
	app := &cli.App{
		Name:    "qfind",
		Usage:   "local file-search engine",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "data-dir",
				Usage: "directory holding meta/ and index/ (default: ~/.qfind)",
			},
			&cli.StringFlag{
				Name:  "config-root",
				Usage: "directory to look for .qfind.kdl in",
				Value: ".",
			},
			&cli.StringSliceFlag{
				Name:  "exclude",
				Usage: "additional exclude glob patterns",
			},
		},
		Commands: []*cli.Command{
			buildCommand,
			searchCommand,
			statusCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "qfind:", err)
		os.Exit(1)
	}
}
