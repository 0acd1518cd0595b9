package profilestore

import (
	"github.com/core-tools/hsu-startup/pkg/errors"
	"github.com/core-tools/hsu-startup/pkg/logging"
)

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Open builds a Store over the named backend
func Open(backend string, path string, options StoreOptions, logger logging.Logger) (*Store, error) {
	var (
		b   Backend
		err error
	)
	switch backend {
	case BackendFile, "":
		b, err = NewFileBackend(path)
	case BackendSQLite:
		b, err = OpenSQLite(path)
	case BackendMemory:
		b = NewMemoryBackend(nil)
	default:
		return nil, errors.NewValidationError("unknown store backend: "+backend, nil)
	}
	if err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Infof("Profile store opened, backend: %s, path: %s, dual_profile: %t", backend, path, options.DualProfile)
	}
	return NewStore(b, options, logger), nil
}
