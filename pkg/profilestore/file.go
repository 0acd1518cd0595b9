package profilestore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/core-tools/hsu-startup/pkg/errors"
)

// Format is the encoding of a settings file
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatForPath picks the encoding from the file extension; YAML unless .json
func FormatForPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// FileBackend keeps the settings document in a single YAML or JSON file.
// Writes go to a temporary file that is renamed over the target.
type FileBackend struct {
	path   string
	format Format
}

var _ Backend = (*FileBackend)(nil)

func NewFileBackend(path string) (*FileBackend, error) {
	if path == "" {
		return nil, errors.NewValidationError("settings path cannot be empty", nil)
	}
	return &FileBackend{
		path:   path,
		format: FormatForPath(path),
	}, nil
}

func (b *FileBackend) Path() string {
	return b.path
}

func (b *FileBackend) Read(ctx context.Context) (*Settings, error) {
	data, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewIOError("failed to read settings file", err).WithContext("path", b.path)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}

	var settings Settings
	switch b.format {
	case FormatJSON:
		err = json.Unmarshal(data, &settings)
	default:
		err = yaml.Unmarshal(data, &settings)
	}
	if err != nil {
		return nil, errors.NewValidationError("failed to parse settings file", err).WithContext("path", b.path)
	}
	return &settings, nil
}

func (b *FileBackend) Write(ctx context.Context, settings *Settings) error {
	var (
		data []byte
		err  error
	)
	switch b.format {
	case FormatJSON:
		data, err = json.MarshalIndent(settings, "", "  ")
	default:
		data, err = yaml.Marshal(settings)
	}
	if err != nil {
		return errors.NewInternalError("failed to encode settings", err)
	}

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.NewIOError("failed to create settings directory", err).WithContext("path", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return errors.NewIOError("failed to create temporary settings file", err).WithContext("path", dir)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.NewIOError("failed to write settings file", err).WithContext("path", tmpPath)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.NewIOError("failed to close settings file", err).WithContext("path", tmpPath)
	}
	if err := os.Rename(tmpPath, b.path); err != nil {
		os.Remove(tmpPath)
		return errors.NewIOError("failed to replace settings file", err).WithContext("path", b.path)
	}
	return nil
}

func (b *FileBackend) Close() error {
	return nil
}
