package config

import (
	"fmt"
	"strings"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"
)

// parseKDL parses the contents of a .qfind.kdl file. Unrecognized nodes
// are ignored, matching the teacher's forward-compatible KDL parsing.
func parseKDL(content, dataDir string) (*Config, error) {
	cfg := Default(dataDir)

	doc, err := kdl.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("config: parse .qfind.kdl: %w", err)
	}

	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "roots":
			cfg.Roots = append(cfg.Roots, collectStringArgs(n)...)
		case "exclude":
			cfg.Exclude = collectStringArgs(n)
		case "watch":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "debounce_ms":
					if v, ok := firstIntArg(cn); ok {
						cfg.WatchDebounceMs = v
					}
				}
			}
		case "ingest":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "batch_size":
					if v, ok := firstIntArg(cn); ok {
						cfg.BatchSize = v
					}
				case "batch_interval_ms":
					if v, ok := firstIntArg(cn); ok {
						cfg.BatchIntervalMs = v
					}
				}
			}
		case "search":
			for _, cn := range n.Children {
				if nodeName(cn) == "max_results" {
					if v, ok := firstIntArg(cn); ok {
						cfg.MaxResults = v
					}
				}
			}
		}
	}

	return cfg, nil
}

func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}

func firstIntArg(n *document.Node) (int, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func collectStringArgs(n *document.Node) []string {
	if n == nil {
		return nil
	}
	var out []string
	for _, a := range n.Arguments {
		if s, ok := a.Value.(string); ok {
			out = append(out, s)
		}
	}
	for _, cn := range n.Children {
		if s := nodeName(cn); s != "" {
			out = append(out, s)
		}
	}
	return out
}
