package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/localsearch/qfind/internal/config"
	"github.com/localsearch/qfind/internal/control"
)

func newTestApp() *cli.App {
	return &cli.App{
		Name: "qfind",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "data-dir"},
			&cli.StringFlag{Name: "config-root", Value: "."},
			&cli.StringSliceFlag{Name: "exclude"},
		},
		Commands: []*cli.Command{buildCommand, searchCommand, statusCommand},
	}
}

// Regression test for runBuild deferring plane.Close() immediately after
// BuildIndex schedules an asynchronous crawl: if build returns before the
// crawl finishes, Close cancels the context the crawl's errgroup depends
// on and the index is left empty. This reopens the data dir afterward and
// expects the crawled file to actually be there.
func TestBuildCommandWaitsForIndexBeforeReturning(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644))
	dataDir := t.TempDir()

	app := newTestApp()
	require.NoError(t, app.Run([]string{"qfind", "--data-dir", dataDir, "build", root}))

	p, err := control.Open(config.Default(dataDir))
	require.NoError(t, err)
	defer p.Close()

	status := p.GetIndexStatus()
	assert.True(t, status.IsReady)
	assert.EqualValues(t, 1, status.TotalFiles)
}

func TestBuildCommandRequiresAtLeastOneRoot(t *testing.T) {
	app := newTestApp()
	dataDir := t.TempDir()
	err := app.Run([]string{"qfind", "--data-dir", dataDir, "build"})
	require.Error(t, err)
}
