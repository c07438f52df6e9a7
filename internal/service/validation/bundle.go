package validation

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
)

const (
	manifestName = "manifest.json"

	// maxBundleFileBytes bounds a single extracted file to guard
	// against zip bombs.
	maxBundleFileBytes = 10 << 20
	maxBundleFiles     = 500
)

// Manifest describes an agent bundle.
type Manifest struct {
	Name      string `json:"name"`
	Entry     string `json:"entry"`
	SmokeTest string `json:"smoke_test,omitempty"`
}

// Bundle is an extracted agent archive.
type Bundle struct {
	Manifest Manifest
	Files    map[string][]byte
}

// Sources returns the JavaScript files of the bundle.
func (b *Bundle) Sources() map[string][]byte {
	out := make(map[string][]byte)
	for name, data := range b.Files {
		if strings.HasSuffix(name, ".js") {
			out[name] = data
		}
	}
	return out
}

// File returns a bundle file by name, nil when absent.
func (b *Bundle) File(name string) []byte {
	return b.Files[name]
}

// OpenBundle extracts a ZIP archive and parses its manifest. Paths are
// normalized and entries escaping the archive root are rejected.
func OpenBundle(data []byte) (*Bundle, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if len(zr.File) > maxBundleFiles {
		return nil, fmt.Errorf("archive has %d files, limit is %d", len(zr.File), maxBundleFiles)
	}

	files := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := path.Clean(f.Name)
		if strings.HasPrefix(name, "..") || path.IsAbs(name) {
			return nil, fmt.Errorf("archive entry %q escapes the bundle root", f.Name)
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open entry %s: %w", name, err)
		}
		content, err := io.ReadAll(io.LimitReader(rc, maxBundleFileBytes+1))
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read entry %s: %w", name, err)
		}
		if len(content) > maxBundleFileBytes {
			return nil, fmt.Errorf("entry %s exceeds the file size limit", name)
		}
		files[name] = content
	}

	raw, ok := files[manifestName]
	if !ok {
		return nil, fmt.Errorf("bundle has no %s", manifestName)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", manifestName, err)
	}
	if m.Name == "" || m.Entry == "" {
		return nil, fmt.Errorf("%s must declare name and entry", manifestName)
	}
	if _, ok := files[m.Entry]; !ok {
		return nil, fmt.Errorf("entry script %s is not in the bundle", m.Entry)
	}
	if m.SmokeTest != "" {
		if _, ok := files[m.SmokeTest]; !ok {
			return nil, fmt.Errorf("smoke test script %s is not in the bundle", m.SmokeTest)
		}
	}
	return &Bundle{Manifest: m, Files: files}, nil
}
