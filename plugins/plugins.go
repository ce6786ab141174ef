// Package plugins ships the streamlink plugins recordings depend on.
//
// Streamlink loads them from KICK_PLUGIN_DIR (passed as --plugin-dirs). The
// archiver writes the embedded copies there at startup, so the directory
// always matches the binary.
package plugins

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

//go:embed *.py
var files embed.FS

// KickFile is the Kick plugin's file name inside the plugin directory.
const KickFile = "kick.py"

// Kick returns the embedded Kick plugin source.
func Kick() []byte {
	data, err := files.ReadFile(KickFile)
	if err != nil {
		panic("embedded kick plugin missing: " + err.Error())
	}
	return data
}

// Install writes every embedded plugin into dir, creating it if needed.
// Files already identical to the embedded copy are left alone. It returns the
// paths it wrote.
func Install(dir string) ([]string, error) {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return nil, fmt.Errorf("list embedded plugins: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create plugin dir %s: %w", dir, err)
	}

	var written []string
	for _, e := range entries {
		want, err := files.ReadFile(e.Name())
		if err != nil {
			return written, fmt.Errorf("read embedded plugin %s: %w", e.Name(), err)
		}
		path := filepath.Join(dir, e.Name())
		have, err := os.ReadFile(path)
		switch {
		case err == nil && bytes.Equal(have, want):
			continue
		case err != nil && !errors.Is(err, fs.ErrNotExist):
			return written, fmt.Errorf("read installed plugin %s: %w", path, err)
		}
		if err := renameio.WriteFile(path, want, 0o644); err != nil {
			return written, fmt.Errorf("install plugin %s: %w", path, err)
		}
		slog.Info("installed streamlink plugin", slog.String("path", path), slog.String("component", "plugins"))
		written = append(written, path)
	}
	return written, nil
}
