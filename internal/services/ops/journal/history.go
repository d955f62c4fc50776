package journal

import (
	"fmt"

	apperrors "github.com/louisbranch/freightdesk/internal/platform/errors"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/entity"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/event"
)

// ReplayStatus folds the status-bearing events (in seq order) into the
// status they imply. Each transition must start where the previous one ended.
func ReplayStatus(events []event.Event) (entity.Status, error) {
	var status entity.Status
	for i, evt := range events {
		if evt.Seq != int64(i+1) {
			return "", divergence("event %d has seq %d", i+1, evt.Seq)
		}
		if !evt.StatusBearing() {
			continue
		}
		if evt.OldStatus != status {
			return "", divergence("seq %d starts from %q but history is at %q", evt.Seq, evt.OldStatus, status)
		}
		status = evt.NewStatus
	}
	if status == "" {
		return "", divergence("history has no status events")
	}
	return status, nil
}

// VerifyChain recomputes every hash and checks each event links to its
// predecessor.
func VerifyChain(events []event.Event) error {
	prevHash := ""
	for _, evt := range events {
		if evt.PrevHash != prevHash {
			return divergence("seq %d does not link to its predecessor", evt.Seq)
		}
		want, err := event.ComputeHash(evt)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, "hash event", err)
		}
		if want != evt.Hash {
			return divergence("seq %d hash mismatch", evt.Seq)
		}
		prevHash = evt.Hash
	}
	return nil
}

// Report summarizes a history check.
type Report struct {
	EntityID       string        `json:"entity_id"`
	Events         int           `json:"events"`
	StoredStatus   entity.Status `json:"stored_status"`
	ReplayedStatus entity.Status `json:"replayed_status,omitempty"`
	ChainValid     bool          `json:"chain_valid"`
	Consistent     bool          `json:"consistent"`
	Problems       []string      `json:"problems,omitempty"`
}

// Verify checks that events replay to e's stored status and that the hash
// chain is intact.
func Verify(e entity.Entity, events []event.Event) Report {
	report := Report{EntityID: e.ID, Events: len(events), StoredStatus: e.Status}
	if err := VerifyChain(events); err != nil {
		report.Problems = append(report.Problems, err.Error())
	} else {
		report.ChainValid = true
	}
	status, err := ReplayStatus(events)
	if err != nil {
		report.Problems = append(report.Problems, err.Error())
	} else {
		report.ReplayedStatus = status
		if status != e.Status {
			report.Problems = append(report.Problems, fmt.Sprintf("replayed status %q differs from stored %q", status, e.Status))
		}
	}
	report.Consistent = len(report.Problems) == 0
	return report
}

func divergence(format string, args ...any) error {
	return apperrors.New(apperrors.CodeInternal, "history diverges: "+fmt.Sprintf(format, args...))
}
