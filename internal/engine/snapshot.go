package engine

import (
	"context"
	"time"

	"github.com/pitchside/auctiond/internal/domain"
)

// PhaseView describes the active lot's current phase and deadline.
type PhaseView struct {
	LotID     string           `json:"lot_id"`
	Phase     domain.LotStatus `json:"phase"`
	Deadline  time.Time        `json:"deadline"`
	Remaining time.Duration    `json:"remaining_ms"`
}

// Snapshot is the full current state of one auction. Reconnecting clients
// always fetch a snapshot rather than replaying the event log, so partial
// replays can never produce ordering bugs; Seq tells the client where the
// event stream resumes.
type Snapshot struct {
	Auction   domain.Auction  `json:"auction"`
	Teams     []domain.Team   `json:"teams"`
	Lots      []domain.Lot    `json:"lots"`
	Phase     *PhaseView      `json:"phase,omitempty"`
	UndoDepth int             `json:"undo_depth"`
	Seq       uint64          `json:"seq"`
	TakenAt   time.Time       `json:"taken_at"`
}

// Snapshot returns a consistent copy of the auction state.
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := e.acquire(ctx); err != nil {
		return Snapshot{}, err
	}
	defer e.release()
	return e.snapshotLocked(), nil
}

func (e *Engine) snapshotLocked() Snapshot {
	now := e.now()
	s := Snapshot{
		Auction:   e.auction,
		Teams:     make([]domain.Team, 0, len(e.teams)),
		Lots:      make([]domain.Lot, 0, len(e.lots)),
		UndoDepth: len(e.undo),
		Seq:       e.auction.Seq,
		TakenAt:   now,
	}
	for _, id := range e.lotOrder {
		s.Lots = append(s.Lots, *e.lots[id])
	}
	for _, t := range e.teams {
		tc := *t
		tc.TokenHash = ""
		s.Teams = append(s.Teams, tc)
	}
	// Stable team order for clients.
	for i := 1; i < len(s.Teams); i++ {
		for j := i; j > 0 && s.Teams[j].Name < s.Teams[j-1].Name; j-- {
			s.Teams[j], s.Teams[j-1] = s.Teams[j-1], s.Teams[j]
		}
	}
	if e.auction.CurrentLotID != nil {
		if lot, ok := e.lots[*e.auction.CurrentLotID]; ok && lot.Status.Active() {
			s.Phase = &PhaseView{
				LotID:     lot.ID,
				Phase:     lot.Status,
				Deadline:  e.clock.deadline,
				Remaining: e.clock.deadline.Sub(now),
			}
		}
	}
	return s
}
