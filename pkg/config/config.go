// Package config loads the synchronizer's YAML configuration document.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opendataspace/csyncgo/pkg/logging"
)

// Options holds the per-pairing tunables: the depth bound, the conflict
// policy, the clock-skew tolerance, the upload block size, the
// per-operation remote timeout, and whether POSIX ownership/permission
// bits are preserved.
type Options struct {
	// MaxDepth bounds the updater's recursion. Zero means
	// scan.DefaultMaxDepth.
	MaxDepth int `yaml:"max_depth"`
	// MaxTimeDifference is the clock-skew tolerance checked once at init;
	// defaults to 10 seconds.
	MaxTimeDifference time.Duration `yaml:"max_time_difference"`
	// WithConflictCopys selects the reconciler's conflict policy: true
	// preserves both versions via a conflict-copy rename, false applies
	// last-writer-wins.
	WithConflictCopys bool `yaml:"with_conflict_copys"`
	// BlockSize overrides hbf.DefaultBlockSize when non-zero.
	BlockSize int64 `yaml:"block_size"`
	// Timeout is the per-operation remote VIO timeout, propagated to the
	// backend via SetProperty("timeout", ...).
	Timeout time.Duration `yaml:"timeout"`
	// UnixExtensions selects whether uid/gid/mode should be preserved:
	// -1 auto-detects, 0 disables, 1 enables.
	UnixExtensions int `yaml:"unix_extensions"`
	// LocalOnly skips remote VIO module resolution and the clock-skew
	// check entirely, syncing two local trees.
	LocalOnly bool `yaml:"local_only"`
	// ExcludeFiles lists paths to glob-pattern exclude files, loaded in
	// order and concatenated.
	ExcludeFiles []string `yaml:"exclude_files"`
	// LogLevel names the verbosity the root logger should start at
	// ("disabled".."trace", matching logging.NameToLevel).
	LogLevel string `yaml:"log_level"`
}

// DefaultMaxTimeDifference is the clock-skew tolerance used when a loaded
// configuration doesn't set one.
const DefaultMaxTimeDifference = 10 * time.Second

// Default returns the configuration used when no file is present: a
// conservative max_depth, the default clock-skew tolerance, last-writer-
// wins conflicts, the default HBF block size, no timeout, and
// auto-detected unix extensions.
func Default() *Options {
	return &Options{
		MaxDepth:          0,
		MaxTimeDifference: DefaultMaxTimeDifference,
		WithConflictCopys: false,
		BlockSize:         0,
		Timeout:           0,
		UnixExtensions:    -1,
		LogLevel:          "info",
	}
}

// Load reads and decodes a YAML configuration document at path, starting
// from Default() so a partially specified file only overrides the fields
// it mentions.
func Load(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("unable to read configuration file: %w", err)
	}

	options := Default()
	if err := yaml.Unmarshal(data, options); err != nil {
		return nil, fmt.Errorf("unable to parse configuration file: %w", err)
	}
	return options, nil
}

// LoadOrDefault behaves like Load, except that a missing file yields
// Default() rather than an error.
func LoadOrDefault(path string, log *logging.Logger) (*Options, error) {
	options, err := Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug("no configuration file at %q, using defaults", path)
			return Default(), nil
		}
		return nil, err
	}
	return options, nil
}
