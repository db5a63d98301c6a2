package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/localsearch/qfind/internal/display"
	"github.com/localsearch/qfind/internal/idcodec"
	"github.com/localsearch/qfind/internal/query"
	"github.com/localsearch/qfind/pkg/pathutil"
)

var searchCommand = &cli.Command{
	Name:      "search",
	Usage:     "search the index",
	ArgsUsage: "QUERY",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "regex",
			Usage: "interpret QUERY as a regular expression against name",
		},
		&cli.IntFlag{
			Name:  "limit",
			Usage: "maximum number of results (capped at 1000)",
			Value: 100,
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "output results as JSON",
		},
		&cli.BoolFlag{
			Name:  "tree",
			Usage: "render results as a directory tree instead of a flat list",
		},
		&cli.BoolFlag{
			Name:  "size",
			Usage: "annotate tree entries with file size (with --tree)",
		},
		&cli.StringFlag{
			Name:  "relative-to",
			Usage: "print result paths relative to this directory instead of absolute",
		},
	},
	Action: runSearch,
}

type searchReport struct {
	TotalFound int         `json:"total_found"`
	ElapsedMs  int64       `json:"elapsed_ms"`
	Truncated  bool        `json:"truncated"`
	Results    []hitReport `json:"results"`
}

type hitReport struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	Size     uint64 `json:"size"`
	Modified string `json:"modified"`
	IsFolder bool   `json:"is_folder"`
}

func runSearch(c *cli.Context) error {
	queryString := c.Args().First()
	if queryString == "" {
		return fmt.Errorf("a query string is required")
	}

	plane, err := openPlane(c)
	if err != nil {
		return err
	}
	defer plane.Close()

	result, err := plane.SearchFiles(c.Context, queryString, c.Bool("regex"), c.Int("limit"))
	if err != nil {
		return err
	}

	relTo := c.String("relative-to")
	if relTo != "" {
		if norm, err := pathutil.ValidateRoot(relTo); err == nil {
			relTo = norm
		}
	}

	report := searchReport{
		TotalFound: result.TotalFound,
		ElapsedMs:  result.ElapsedMs,
		Truncated:  result.Truncated,
	}
	for _, h := range result.Hits {
		path := h.Path
		if relTo != "" {
			path = pathutil.ToRelative(path, relTo)
		}
		report.Results = append(report.Results, hitReport{
			ID:       idcodec.EncodeID(h.ID),
			Name:     h.Name,
			Path:     path,
			Size:     h.Size,
			Modified: h.Modified.Format("2006-01-02T15:04:05Z07:00"),
			IsFolder: h.IsFolder,
		})
	}

	if c.Bool("json") {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	}

	if c.Bool("tree") {
		hits := result.Hits
		if relTo != "" {
			hits = append([]query.Hit(nil), hits...)
			for i := range hits {
				hits[i].Path = pathutil.ToRelative(hits[i].Path, relTo)
			}
		}
		tf := display.NewTreeFormatter(display.FormatterOptions{ShowSize: c.Bool("size")})
		fmt.Print(tf.Format(hits))
		fmt.Printf("\n(%d total, %d ms)\n", result.TotalFound, result.ElapsedMs)
		return nil
	}

	for _, h := range report.Results {
		marker := " "
		if h.IsFolder {
			marker = "/"
		}
		fmt.Printf("%s%s\n", h.Path, marker)
	}
	fmt.Printf("\n%d results (%d total, %d ms)\n", len(report.Results), report.TotalFound, report.ElapsedMs)
	return nil
}
