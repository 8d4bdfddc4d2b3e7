// Package tempid hands out negative identifiers for records the remote store has not seen.
package tempid

import (
	"context"
	"fmt"
	"sync/atomic"
)

// MinIDSource reports the smallest id currently stored locally (zero when none is negative).
type MinIDSource interface {
	GetMinID(ctx context.Context) (int64, error)
}

// Allocator produces strictly decreasing negative ids. The zero value is not usable;
// construct one with New, which completes the seeding scan first.
type Allocator struct {
	last atomic.Int64
}

// New scans src and returns an allocator whose first id is below everything stored.
func New(ctx context.Context, src MinIDSource) (*Allocator, error) {
	a := &Allocator{}
	if err := a.Reseed(ctx, src); err != nil {
		return nil, err
	}
	return a, nil
}

// Next returns the next tentative id.
func (a *Allocator) Next() int64 {
	return a.last.Add(-1)
}

// Reseed lowers the counter below the minimum id of src. It never raises it, so ids
// handed out earlier in the process are not reused.
func (a *Allocator) Reseed(ctx context.Context, src MinIDSource) error {
	minID, err := src.GetMinID(ctx)
	if err != nil {
		return fmt.Errorf("scan minimum id: %w", err)
	}
	if minID > 0 {
		minID = 0
	}
	for {
		cur := a.last.Load()
		if cur <= minID {
			return nil
		}
		if a.last.CompareAndSwap(cur, minID) {
			return nil
		}
	}
}
