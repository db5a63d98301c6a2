package searchindex

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/localsearch/qfind/internal/qerrors"
)

const manifestVersion = 1

// Manifest is the on-disk record qfind keeps in index/ to distinguish a
// clean prior shutdown from an unclean one. The Search Index itself is
// never persisted: it is always rebuilt in memory from the Metadata
// Store on process start, so the manifest only records whether the
// process that last wrote it reached a graceful Close.
type Manifest struct {
	ClosedCleanly bool      `toml:"closed_cleanly"`
	LastRebuilt   time.Time `toml:"last_rebuilt"`
	EntryCount    int       `toml:"entry_count"`
}

// OpenManifestDir prepares dir (qfind's index/ directory) for use,
// checking its VERSION file for compatibility and returning the
// manifest recorded there, if any.
func OpenManifestDir(dir string) (*Manifest, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, qerrors.IO("open", dir, err)
	}
	if err := checkManifestVersion(dir); err != nil {
		return nil, err
	}
	return readManifest(dir)
}

func checkManifestVersion(dir string) error {
	versionPath := filepath.Join(dir, "VERSION")
	data, err := os.ReadFile(versionPath)
	if os.IsNotExist(err) {
		return os.WriteFile(versionPath, []byte(strconv.Itoa(manifestVersion)), 0o644)
	}
	if err != nil {
		return qerrors.IO("read_version", versionPath, err)
	}
	onDisk, err := strconv.Atoi(string(data))
	if err != nil {
		return qerrors.IncompatibleVersion(dir, -1, manifestVersion)
	}
	if onDisk != manifestVersion {
		return qerrors.IncompatibleVersion(dir, onDisk, manifestVersion)
	}
	return nil
}

func manifestPath(dir string) string { return filepath.Join(dir, "manifest.toml") }

func readManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(manifestPath(dir))
	if os.IsNotExist(err) {
		return &Manifest{}, nil
	}
	if err != nil {
		return nil, qerrors.IO("read_manifest", manifestPath(dir), err)
	}
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("searchindex: corrupt manifest: %w", err)
	}
	return &m, nil
}

// WriteManifest persists m to dir. The Control Plane writes one with
// ClosedCleanly=false as a rebuild starts and one with ClosedCleanly=true
// on graceful shutdown; a manifest read back with ClosedCleanly=false
// means the process that wrote it never got to the second write.
func WriteManifest(dir string, m *Manifest) error {
	data, err := toml.Marshal(m)
	if err != nil {
		return fmt.Errorf("searchindex: encode manifest: %w", err)
	}
	if err := os.WriteFile(manifestPath(dir), data, 0o644); err != nil {
		return qerrors.IO("write_manifest", manifestPath(dir), err)
	}
	return nil
}
