package dsync

import (
	"fmt"
	"time"

	"dsync-go/internal/model"
)

// Decision is the outcome of comparing a local and a remote document state.
type Decision int

const (
	// DecisionNoChange means the content is identical regardless of
	// timestamps; nothing to do.
	DecisionNoChange Decision = iota
	// DecisionLocalWins means divergence is safe and the local copy is
	// authoritative: upload it.
	DecisionLocalWins
	// DecisionRemoteWins means divergence is safe and the remote copy is
	// authoritative: apply it locally.
	DecisionRemoteWins
	// DecisionConflict means both sides plausibly mutated independently;
	// auto-overwriting either side would lose data.
	DecisionConflict
)

func (d Decision) String() string {
	switch d {
	case DecisionNoChange:
		return "no-change"
	case DecisionLocalWins:
		return "local-wins"
	case DecisionRemoteWins:
		return "remote-wins"
	case DecisionConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Detection is the detector's verdict. Record is set only for conflicts.
type Detection struct {
	Decision Decision
	Record   *model.ConflictRecord
}

// Detect compares a local and a remote document state and decides whether
// they diverged safely. It is a pure function: no I/O, no mutation, and it
// never fails for well-formed documents.
//
// The heuristic consults only timestamps and hash inequality, not a causal
// history. A local copy that is strictly newer than a remote copy that was
// never touched since the last common state still flags a conflict. That
// false-positive source is a deliberate trade-off: it errs toward surfacing
// a conflict rather than silently overwriting.
func Detect(local, remote *model.Document, now time.Time) Detection {
	if HashEqual(local.ContentHash, remote.ContentHash) {
		return Detection{Decision: DecisionNoChange}
	}

	// A zero CloudTimestamp (never synced) compares earlier than any local
	// mutation time.
	remoteTS := remote.CloudTimestamp

	// Both sides mutated independently since the last known-common state.
	if local.LocalTimestamp.After(remoteTS) {
		return conflict(local, remote, now)
	}

	// Remote advanced while local has pending unsynced work.
	if remoteTS.After(local.LocalTimestamp) && local.LocalTimestamp.After(local.LastSyncedAt) {
		return conflict(local, remote, now)
	}

	// Safe divergence: the side with the later logical timestamp is
	// authoritative and overwrites the other. The rule above already claims
	// every local-newer divergence as a conflict, so a strictly-newer local
	// copy cannot reach this point; it is kept as a general comparison so
	// the authoritative-side rule stands on its own.
	if local.LocalTimestamp.After(remoteTS) {
		return Detection{Decision: DecisionLocalWins}
	}
	return Detection{Decision: DecisionRemoteWins}
}

func conflict(local, remote *model.Document, now time.Time) Detection {
	return Detection{
		Decision: DecisionConflict,
		Record: &model.ConflictRecord{
			DocumentID: local.ID,
			Local:      *local,
			Remote:     *remote,
			DetectedAt: now,
		},
	}
}

// Resolve picks the winning document for a conflict record under the given
// strategy. Manual resolution is not performed here: the caller must supply
// an explicit choice, and passing ResolveManual is a usage error.
func Resolve(record *model.ConflictRecord, strategy model.ResolutionStrategy) (*model.Document, error) {
	switch strategy {
	case model.ResolveLatest:
		// Greater effective timestamp wins; a never-synced remote loses.
		if record.Local.LocalTimestamp.After(record.Remote.CloudTimestamp) {
			doc := record.Local
			return &doc, nil
		}
		doc := record.Remote
		return &doc, nil
	case model.ResolveLocal:
		doc := record.Local
		return &doc, nil
	case model.ResolveCloud:
		doc := record.Remote
		return &doc, nil
	case model.ResolveManual:
		return nil, fmt.Errorf("manual strategy requires an explicit choice")
	default:
		return nil, fmt.Errorf("unknown resolution strategy: %q", strategy)
	}
}
