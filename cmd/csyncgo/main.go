// Command csyncgo is the thin command-line entry point over the
// synchronization core: it wires a local replica, a remote replica, and a
// journal into a synchronization.Session and drives a single UPDATE ->
// RECONCILE -> PROPAGATE -> COMMIT cycle. Flag parsing, config and
// exclude-file loading, and lock acquisition all live here, outside the
// core packages.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/opendataspace/csyncgo/pkg/config"
	"github.com/opendataspace/csyncgo/pkg/csyncgo"
	"github.com/opendataspace/csyncgo/pkg/filesystem/lock"
	"github.com/opendataspace/csyncgo/pkg/logging"
	"github.com/opendataspace/csyncgo/pkg/synchronization"
	"github.com/opendataspace/csyncgo/pkg/synchronization/ignore"
	"github.com/opendataspace/csyncgo/pkg/synchronization/journal"
	"github.com/opendataspace/csyncgo/pkg/synchronization/metrics"
	"github.com/opendataspace/csyncgo/pkg/vio"

	"github.com/prometheus/client_golang/prometheus"
)

// loadExcludePatterns reads each named exclude-list file (one glob
// pattern per line, with ignore.New's own "#"-comment and blank-line
// tolerance) and concatenates their patterns.
func loadExcludePatterns(paths []string) ([]string, error) {
	var patterns []string
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("unable to read exclude file %q: %w", path, err)
		}
		patterns = append(patterns, strings.Split(string(data), "\n")...)
	}
	return patterns, nil
}

var syncConfiguration struct {
	// configPath names a YAML configuration file, loaded with
	// config.LoadOrDefault.
	configPath string
	// excludeFiles lists glob exclude patterns, compiled into an
	// ignore.List together with the patterns read from the configuration's
	// exclude files.
	excludeFiles []string
	// logLevel overrides the configuration file's log_level.
	logLevel string
}

func syncMain(command *cobra.Command, arguments []string) error {
	localPath, remoteURL := arguments[0], arguments[1]

	var options *config.Options
	log := logging.NewRoot(logging.LevelInfo, nil)
	if syncConfiguration.configPath != "" {
		loaded, err := config.LoadOrDefault(syncConfiguration.configPath, log)
		if err != nil {
			return fmt.Errorf("unable to load configuration: %w", err)
		}
		options = loaded
	} else {
		options = config.Default()
	}
	if syncConfiguration.logLevel != "" {
		options.LogLevel = syncConfiguration.logLevel
	}
	if level, ok := logging.NameToLevel(options.LogLevel); ok {
		log.SetLevel(level)
	}

	filePatterns, err := loadExcludePatterns(options.ExcludeFiles)
	if err != nil {
		return err
	}
	excludes, err := ignore.New(append(syncConfiguration.excludeFiles, filePatterns...))
	if err != nil {
		return fmt.Errorf("unable to compile exclude list: %w", err)
	}

	heldLock, err := lock.Acquire(lock.PathFor(localPath))
	if err != nil {
		return fmt.Errorf("unable to acquire replica lock: %w", err)
	}
	defer heldLock.Release()

	j, err := journal.Open(journal.PathFor(localPath))
	if err != nil {
		return fmt.Errorf("unable to open journal: %w", err)
	}
	defer j.Close()

	local := vio.NewLocal(localPath)
	var remote vio.Backend
	if options.LocalOnly {
		remote = vio.NewLocal(remoteURL)
	} else {
		remote, err = vio.NewRegistry().Resolve(command.Context(), remoteURL)
		if err != nil {
			return fmt.Errorf("unable to resolve remote backend: %w", err)
		}
	}

	session := synchronization.New(local, remote, j, options, log)
	session.Excludes = excludes
	session.Metrics = metrics.New(prometheus.NewRegistry())

	bar := progressbar.Default(-1, "synchronizing")
	session.Progress = func(path string, bytesDone, bytesTotal int64) {
		bar.Describe(path)
		if bytesTotal > 0 {
			bar.Set64(bytesDone)
		}
	}

	if err := session.Run(command.Context()); err != nil {
		return fmt.Errorf("synchronization cycle failed: %w", err)
	}
	fmt.Println("synchronization complete")
	return nil
}

var syncCommand = &cobra.Command{
	Use:   "sync <local-path> <remote-url>",
	Short: "Run a single synchronization cycle between a local replica and a remote replica",
	Args:  cobra.ExactArgs(2),
	RunE:  syncMain,
}

func init() {
	flags := syncCommand.Flags()
	flags.SortFlags = false
	flags.StringVarP(&syncConfiguration.configPath, "config", "c", "", "path to a YAML configuration file")
	flags.StringArrayVarP(&syncConfiguration.excludeFiles, "exclude", "e", nil, "glob pattern to exclude (repeatable)")
	flags.StringVar(&syncConfiguration.logLevel, "log-level", "", "log verbosity (disabled|error|info|debug|trace)")
}

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(command *cobra.Command, arguments []string) {
		fmt.Println(csyncgo.Version)
	},
}

var rootCommand = &cobra.Command{
	Use:          "csyncgo",
	Short:        "A bidirectional file-tree synchronizer",
	SilenceUsage: true,
}

// fatal renders err to standard error with the program-name prefix and
// terminates with a failure exit code.
func fatal(err error) {
	fmt.Fprintln(color.Error, color.RedString("csyncgo:"), err)
	os.Exit(1)
}

func main() {
	rootCommand.AddCommand(syncCommand, versionCommand)
	if err := rootCommand.ExecuteContext(context.Background()); err != nil {
		fatal(err)
	}
}
