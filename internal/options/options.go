package options

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// IOType how the log file is read during full scans.
type IOType string

const (
	// FileIO standard positioned file reads.
	FileIO IOType = "fileio"

	// MMap read-only memory mapping, remapped for every scan.
	MMap IOType = "mmap"
)

// Options for opening a store.
type Options struct {
	// Path of the data file. Created if absent, its directory must exist.
	Path string `yaml:"path"`

	// IOType used by Load and Find.
	IOType IOType `yaml:"io_type"`

	// Sync fsyncs the file after every write.
	Sync bool `yaml:"sync"`

	// FileLock takes an advisory exclusive lock on the data file for the
	// lifetime of the store, so a second store on the same path fails to open.
	FileLock bool `yaml:"file_lock"`

	// LogLevel one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// MetricsNamespace prefixes every metric name.
	MetricsNamespace string `yaml:"metrics_namespace"`
}

// DefaultOptions default options for opening a store at path.
func DefaultOptions(path string) Options {
	return Options{
		Path:             path,
		IOType:           FileIO,
		Sync:             false,
		FileLock:         false,
		LogLevel:         "info",
		MetricsNamespace: "appendkv",
	}
}

// Validate reports the first invalid field.
func (o Options) Validate() error {
	if o.Path == "" {
		return fmt.Errorf("options: path is empty")
	}
	switch o.IOType {
	case FileIO, MMap:
	default:
		return fmt.Errorf("options: unknown io_type %q", o.IOType)
	}
	return nil
}

// Load reads YAML options from r on top of the defaults.
// A nil or empty reader yields the defaults.
func Load(r io.Reader) (Options, error) {
	opts := DefaultOptions("")
	if r == nil {
		return opts, nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return opts, fmt.Errorf("failed to read options: %w", err)
	}
	if len(data) == 0 {
		return opts, nil
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("failed to unmarshal options yaml: %w", err)
	}
	return opts, nil
}

// LoadFile reads YAML options from path. A missing file yields the defaults.
func LoadFile(path string) (Options, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Load(nil)
		}
		return Options{}, fmt.Errorf("failed to open options file %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}
