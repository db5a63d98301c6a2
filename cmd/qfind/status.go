package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

var statusCommand = &cli.Command{
	Name:  "status",
	Usage: "show index status",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "json",
			Usage: "output status as JSON",
		},
	},
	Action: runStatus,
}

type statusReport struct {
	IsReady            bool   `json:"is_ready"`
	TotalFiles         uint64 `json:"total_files"`
	LastUpdated        string `json:"last_updated"`
	IndexingInProgress bool   `json:"indexing_in_progress"`
	Error              string `json:"error,omitempty"`
}

func runStatus(c *cli.Context) error {
	plane, err := openPlane(c)
	if err != nil {
		return err
	}
	defer plane.Close()

	status := plane.GetIndexStatus()
	report := statusReport{
		IsReady:            status.IsReady,
		TotalFiles:         status.TotalFiles,
		IndexingInProgress: status.IndexingInProgress,
		Error:              status.Error,
	}
	if !status.LastUpdated.IsZero() {
		report.LastUpdated = status.LastUpdated.Format("2006-01-02T15:04:05Z07:00")
	}

	if c.Bool("json") {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	}

	fmt.Printf("ready:              %v\n", report.IsReady)
	fmt.Printf("total files:        %d\n", report.TotalFiles)
	fmt.Printf("indexing:           %v\n", report.IndexingInProgress)
	if report.LastUpdated != "" {
		fmt.Printf("last updated:       %s\n", report.LastUpdated)
	}
	if report.Error != "" {
		fmt.Printf("error:              %s\n", report.Error)
	}
	return nil
}
