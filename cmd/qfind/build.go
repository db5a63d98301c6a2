package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
)

var buildCommand = &cli.Command{
	Name:      "build",
	Usage:     "crawl roots and (re)build the index",
	ArgsUsage: "ROOT [ROOT...]",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "force",
			Usage: "drop the existing index and rebuild from scratch",
		},
		&cli.BoolFlag{
			Name:  "watch",
			Usage: "keep running and print progress until Ctrl-C",
		},
	},
	Action: runBuild,
}

func runBuild(c *cli.Context) error {
	roots := c.Args().Slice()
	if len(roots) == 0 {
		return fmt.Errorf("at least one root is required")
	}

	plane, err := openPlane(c)
	if err != nil {
		return err
	}
	defer plane.Close()

	status, err := plane.BuildIndex(c.Context, roots, c.Bool("force"))
	if err != nil {
		return err
	}
	fmt.Printf("build: %s\n", status.Status)

	// BuildIndex only schedules the crawl; it runs on a goroutine under
	// plane's own context. Returning here and letting the deferred
	// Close() above fire would cancel that context out from under the
	// crawl before it does any real work, so every invocation — not just
	// --watch — blocks until the index actually reaches ready.
	watch := c.Bool("watch")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	for {
		select {
		case ev := <-plane.Progress():
			if watch {
				fmt.Printf("\rindexing: %d/%d", ev.Processed, ev.Total)
			}
		case <-ctx.Done():
			if watch {
				fmt.Println()
			}
			return fmt.Errorf("timed out waiting for build to complete")
		case <-time.After(500 * time.Millisecond):
			st := plane.GetIndexStatus()
			if st.Error != "" {
				if watch {
					fmt.Println()
				}
				return fmt.Errorf("build failed: %s", st.Error)
			}
			if st.IsReady && !st.IndexingInProgress {
				if watch {
					fmt.Println()
				}
				return nil
			}
		}
	}
}
