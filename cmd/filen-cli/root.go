package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CrispStrobe/filen-cli-go/internal/cliutil"
	"github.com/CrispStrobe/filen-cli-go/internal/ferrors"
)

// cliError carries an explicit exit code (spec.md §6) alongside the
// error cobra would otherwise just print and discard.
type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }
func (e *cliError) Unwrap() error { return e.err }

func usageErr(format string, args ...any) error {
	return &cliError{code: 2, err: fmt.Errorf(format, args...)}
}

// kindExit maps a ferrors.Kind to the exit code spec.md §6 assigns when a
// single non-batch operation (e.g. mkdir, mv) fails directly, as opposed
// to a batch's own per-task Result.ExitCode().
func kindExit(err error) int {
	kind, ok := ferrors.KindOf(err)
	if !ok {
		return 1
	}
	switch kind {
	case ferrors.Auth:
		return 3
	case ferrors.Transient, ferrors.RateLimited:
		return 4
	case ferrors.InvalidPath:
		return 2
	default:
		return 1
	}
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	var ce *cliError
	if errors.As(err, &ce) {
		return ce
	}
	return &cliError{code: kindExit(err), err: err}
}

var (
	flagConfigDir string
	flagVerbose   bool
	flagConflict  string
)

var rootCmd = &cobra.Command{
	Use:           "filen-cli",
	Short:         "Command-line client for an end-to-end encrypted cloud object store",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "", "configuration directory (default: $FILEN_CLI_CONFIG_DIR or ~/.filen-cli)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "print underlying error detail instead of just the error kind")
	rootCmd.PersistentFlags().StringVar(&flagConflict, "on-conflict", "skip", "conflict policy for transfers: skip, overwrite, newer")

	rootCmd.AddCommand(
		loginCmd, logoutCmd, whoamiCmd,
		lsCmd, treeCmd, findCmd, resolveCmd,
		uploadCmd, downloadCmd, downloadPathCmd, verifyCmd,
		mkdirCmd, mvCmd, cpCmd, renameCmd,
		trashCmd, listTrashCmd, restoreUUIDCmd, restorePathCmd, deletePathCmd,
		configCmd,
	)
}

// Execute runs the command tree and returns the process exit code spec.md
// §6 specifies, rather than exiting directly, so main stays a one-liner.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	if flagVerbose {
		cliutil.Error("%v", err)
	} else if kind, ok := ferrors.KindOf(err); ok {
		cliutil.Error("%s", kind)
	} else {
		cliutil.Error("%v", err)
	}
	var ce *cliError
	if errors.As(err, &ce) {
		return ce.code
	}
	return 2
}
