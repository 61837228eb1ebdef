package batch

import (
	"time"

	"github.com/CrispStrobe/filen-cli-go/internal/model"
)

// conflictOutcome is the result of applying a ConflictPolicy to a
// pre-existing counterpart on the destination side.
type conflictOutcome int

const (
	proceed conflictOutcome = iota
	skipExists
	skipNotNewer
)

// resolveConflict applies spec.md §4.5's conflict policy: "skip" never
// overwrites, "overwrite" always does, "newer" overwrites only when the
// source is strictly newer than the destination.
func resolveConflict(policy model.ConflictPolicy, destExists bool, srcModTime, destModTime time.Time) conflictOutcome {
	if !destExists {
		return proceed
	}
	switch policy {
	case model.ConflictOverwrite:
		return proceed
	case model.ConflictNewer:
		if srcModTime.After(destModTime) {
			return proceed
		}
		return skipNotNewer
	default: // model.ConflictSkip
		return skipExists
	}
}
