package anchor

import (
	"context"
	"log"
	"time"

	"github.com/marketgrid/commission-engine/internal/domain"
	"github.com/marketgrid/commission-engine/internal/repository"
)

// Anchorer drains pending commission records into the chain in the
// background and marks each record with its anchor reference. A failed
// append marks the record FAILED and is not retried automatically;
// failed anchors are an operator concern.
type Anchorer struct {
	chain    *Chain
	records  *repository.RecordRepo
	interval time.Duration
	batch    int
}

func NewAnchorer(chain *Chain, records *repository.RecordRepo, interval time.Duration, batch int) *Anchorer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &Anchorer{chain: chain, records: records, interval: interval, batch: batch}
}

// Run sweeps until the context is cancelled.
func (a *Anchorer) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := a.Sweep(); err != nil {
				log.Printf("[anchor] WARNING: sweep failed: %v", err)
			} else if n > 0 {
				log.Printf("[anchor] Anchored %d records (head %s)", n, a.chain.Head())
			}
		}
	}
}

// Sweep anchors one batch of pending records and returns how many were
// anchored.
func (a *Anchorer) Sweep() (int, error) {
	pending, err := a.records.PendingAnchors(a.batch)
	if err != nil {
		return 0, err
	}

	anchored := 0
	for i := range pending {
		rec := &pending[i]
		ref, err := a.chain.Append(rec.ID, rec)
		if err != nil {
			log.Printf("[anchor] WARNING: anchor failed for record %s: %v", rec.ID, err)
			if markErr := a.records.SetAnchor(rec.ID, domain.AnchorFailed, ""); markErr != nil {
				log.Printf("[anchor] WARNING: could not mark record %s failed: %v", rec.ID, markErr)
			}
			continue
		}
		if err := a.records.SetAnchor(rec.ID, domain.AnchorConfirmed, ref); err != nil {
			return anchored, err
		}
		anchored++
	}
	return anchored, nil
}
