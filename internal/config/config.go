// Package config defines qfind's configuration surface and loads it from
// a .qfind.kdl file, falling back to built-in defaults when none exists.
package config

import (
	"os"
	"path/filepath"
)

// Config is qfind's entire configuration surface. Per the core's design
// notes, only roots and a small set of crawl/watch knobs are inputs.
// The one filter carried beyond that is Exclude (glob patterns); there
// is no hidden-file or max-depth filter. Exclude never changes the
// meaning of build_index's two documented parameters (roots, force).
type Config struct {
	DataDir string   // directory holding meta/ and index/
	Roots   []string // absolute crawl roots

	Exclude []string // doublestar glob patterns excluded from crawl and watch

	WatchDebounceMs int // WA event-coalescing window, default 100
	BatchSize       int // IP batch size, default 1024
	BatchIntervalMs int // IP batch interval, default 100

	MaxResults int // QE result cap, default 1000
}

// Default returns qfind's built-in configuration for dataDir.
func Default(dataDir string) *Config {
	return &Config{
		DataDir:         dataDir,
		Exclude:         DefaultExclusions(),
		WatchDebounceMs: 100,
		BatchSize:       1024,
		BatchIntervalMs: 100,
		MaxResults:      1000,
	}
}

// DefaultExclusions mirrors the teacher's build-artifact exclusion list,
// trimmed to directories that are never useful in a file-path index
// (version control internals and dependency caches).
func DefaultExclusions() []string {
	return []string{
		"**/.git/**",
		"**/node_modules/**",
		"**/.svn/**",
		"**/.hg/**",
		"**/target/**",
		"**/vendor/**",
	}
}

// Load reads .qfind.kdl from projectRoot if present, otherwise returns
// Default(dataDir). CLI flag overrides are applied by the caller after
// Load returns.
func Load(projectRoot, dataDir string) (*Config, error) {
	kdlPath := filepath.Join(projectRoot, ".qfind.kdl")
	if _, err := os.Stat(kdlPath); os.IsNotExist(err) {
		return Default(dataDir), nil
	}

	content, err := os.ReadFile(kdlPath)
	if err != nil {
		return nil, err
	}
	cfg, err := parseKDL(string(content), dataDir)
	if err != nil {
		return nil, err
	}
	cfg.enrichExclusions(projectRoot)
	return cfg, nil
}

// enrichExclusions adds language-specific build-output directories
// (detected from package.json, Cargo.toml, tsconfig.json, ...) and any
// .gitignore patterns found at projectRoot to cfg.Exclude.
func (cfg *Config) enrichExclusions(projectRoot string) {
	detector := NewBuildArtifactDetector(projectRoot)
	cfg.Exclude = DeduplicatePatterns(append(cfg.Exclude, detector.DetectOutputDirectories()...))

	gi := NewGitignoreParser()
	if err := gi.LoadGitignore(projectRoot); err == nil {
		cfg.Exclude = DeduplicatePatterns(append(cfg.Exclude, gi.GetExclusionPatterns()...))
	}
}
