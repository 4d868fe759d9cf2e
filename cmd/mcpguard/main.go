// main.go: mcpguard command-line interface
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	mcpguard "github.com/agilira/go-mcpguard"
)

var (
	optionsPath  string
	hostIdentity string
	verbose      bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mcpguard",
		Short: "Route MCP server configurations through a guarding proxy",
		Long: `mcpguard rewrites MCP server entries in editor configuration files so
that every server starts behind a routing proxy, and keeps the files
rewritten as they change on disk. Comments and formatting are preserved
exactly, and teardown restores the original entries byte for byte.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&optionsPath, "options", "o", "",
		"options file (default "+mcpguard.DefaultOptionsPath()+")")
	root.PersistentFlags().StringVar(&hostIdentity, "host", "",
		"host identity owning the wrapped files (overrides options file)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable debug logging")

	root.AddCommand(newWatchCmd())
	root.AddCommand(newWrapCmd())
	root.AddCommand(newUnwrapCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newTeardownCmd())
	return root
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <config-file>...",
		Short: "Wrap the given files and keep them wrapped until interrupted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			guardian, logger, err := buildGuardian()
			if err != nil {
				return reportError(err)
			}

			ctx, stop := signal.NotifyContext(context.Background(),
				os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := guardian.Start(ctx, args...); err != nil {
				return reportError(err)
			}
			logger.Info("Watching configuration files; press Ctrl+C to restore and exit")

			<-ctx.Done()
			logger.Info("Shutting down, restoring wrapped files")
			return reportError(guardian.Teardown())
		},
	}
}

func newWrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wrap <config-file>...",
		Short: "Wrap the MCP server entries in the given files once",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return forEachFile(args, func(g *mcpguard.Guardian, path string) (bool, error) {
				return g.WrapFile(path)
			}, "wrapped", "already wrapped")
		},
	}
}

func newUnwrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unwrap <config-file>...",
		Short: "Restore the original MCP server entries in the given files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return forEachFile(args, func(g *mcpguard.Guardian, path string) (bool, error) {
				return g.UnwrapFile(path)
			}, "restored", "nothing to restore")
		},
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the files currently wrapped by this host identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			guardian, _, err := buildGuardian()
			if err != nil {
				return reportError(err)
			}
			paths, err := guardian.WrappedFiles()
			if err != nil {
				return reportError(err)
			}
			for _, path := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return nil
		},
	}
}

func newTeardownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "teardown",
		Short: "Restore every file wrapped by this host identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			guardian, _, err := buildGuardian()
			if err != nil {
				return reportError(err)
			}
			return reportError(guardian.Teardown())
		},
	}
}

// forEachFile runs a one-shot transform over all given files, reporting the
// outcome per file and continuing past failures.
func forEachFile(paths []string, op func(*mcpguard.Guardian, string) (bool, error), did, didNot string) error {
	guardian, logger, err := buildGuardian()
	if err != nil {
		return reportError(err)
	}
	var firstErr error
	for _, path := range paths {
		changed, err := op(guardian, path)
		switch {
		case err != nil:
			logger.Error("Transform failed", "path", path, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		case changed:
			logger.Info("File "+did, "path", path)
		default:
			logger.Info("File unchanged ("+didNot+")", "path", path)
		}
	}
	return firstErr
}

func buildGuardian() (*mcpguard.Guardian, mcpguard.Logger, error) {
	opts, err := loadOptions()
	if err != nil {
		return nil, nil, err
	}
	logger := newCharmLogger(verbose)
	guardian, err := mcpguard.NewGuardian(opts, logger, stderrNotifier{})
	if err != nil {
		return nil, nil, err
	}
	return guardian, logger, nil
}

// loadOptions resolves the effective options: an explicit --options file is
// required to exist, the default path is used only if present, and --host
// overrides whatever the file says.
func loadOptions() (mcpguard.GuardOptions, error) {
	path := optionsPath
	if path == "" {
		defaultPath := mcpguard.DefaultOptionsPath()
		if _, err := os.Stat(defaultPath); err == nil {
			path = defaultPath
		}
	}

	var opts mcpguard.GuardOptions
	if path != "" {
		loaded, err := mcpguard.LoadGuardOptions(path)
		if err != nil {
			return mcpguard.GuardOptions{}, err
		}
		opts = loaded
	} else {
		opts = mcpguard.DefaultGuardOptions(hostIdentity)
	}
	if hostIdentity != "" {
		opts.HostIdentity = hostIdentity
	}
	return opts, nil
}

// reportError prints the error once through the logger-style stderr output
// and returns it so cobra sets a non-zero exit code.
func reportError(err error) error {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

// stderrNotifier surfaces user-actionable library notifications on stderr,
// the closest thing a terminal has to an editor notification.
type stderrNotifier struct{}

func (stderrNotifier) ShowError(message string) {
	fmt.Fprintln(os.Stderr, "mcpguard:", message)
}

// charmLogger adapts charmbracelet/log to the library's Logger interface.
type charmLogger struct {
	logger *log.Logger
}

func newCharmLogger(debug bool) *charmLogger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "mcpguard",
	})
	if debug {
		logger.SetLevel(log.DebugLevel)
	}
	return &charmLogger{logger: logger}
}

func (c *charmLogger) Debug(msg string, args ...any) { c.logger.Debug(msg, args...) }
func (c *charmLogger) Info(msg string, args ...any)  { c.logger.Info(msg, args...) }
func (c *charmLogger) Warn(msg string, args ...any)  { c.logger.Warn(msg, args...) }
func (c *charmLogger) Error(msg string, args ...any) { c.logger.Error(msg, args...) }

func (c *charmLogger) With(args ...any) mcpguard.Logger {
	return &charmLogger{logger: c.logger.With(args...)}
}
