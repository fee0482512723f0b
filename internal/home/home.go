package home

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const (
	// DefaultDirName is the default name for the picturebook home directory.
	DefaultDirName = ".picturebook"

	// DataDirName is the subdirectory bind-mounted into the DefraDB container.
	DataDirName = "data"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	SQLiteFileName = "picturebook.db"
	BadgerDirName  = "badger"
	ImagesDirName  = "images"
	LockFileName   = "picturebook.lock"
)

// ErrLocked is returned when another server already holds the home lock.
var ErrLocked = errors.New("another picturebook server is using this home directory")

// Dir represents the picturebook home directory structure.
type Dir struct {
	path string
	lock *flock.Flock
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.picturebook).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// DataPath returns the path to the DefraDB data directory.
func (d *Dir) DataPath() string {
	return filepath.Join(d.path, DataDirName)
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// SQLitePath returns the default SQLite database file.
func (d *Dir) SQLitePath() string {
	return filepath.Join(d.path, SQLiteFileName)
}

// BadgerPath returns the default Badger database directory.
func (d *Dir) BadgerPath() string {
	return filepath.Join(d.path, BadgerDirName)
}

// ImagesPath returns the directory generated illustrations are written to.
func (d *Dir) ImagesPath() string {
	return filepath.Join(d.path, ImagesDirName)
}

// LockPath returns the server lock file.
func (d *Dir) LockPath() string {
	return filepath.Join(d.path, LockFileName)
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	for _, dir := range []string{d.DataPath(), d.ImagesPath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

// Lock takes the home directory lock without blocking. Only one server may
// run against a home at a time.
func (d *Dir) Lock() error {
	if err := os.MkdirAll(d.path, 0o755); err != nil {
		return fmt.Errorf("failed to create home directory: %w", err)
	}
	if d.lock == nil {
		d.lock = flock.New(d.LockPath())
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrLocked
	}
	return nil
}

// Unlock releases the lock taken by Lock.
func (d *Dir) Unlock() error {
	if d.lock == nil {
		return nil
	}
	return d.lock.Unlock()
}
