package httpremote

import (
	"context"

	"github.com/ongarde/ongarde/internal/domain/audit"
)

// FanOut combines a primary audit.Store with an optional best-effort
// secondary sink (typically a Sink). Writes go to both; only the primary's
// errors propagate, since the secondary is defined to never block or fail
// the caller (spec.md §4.7).
type FanOut struct {
	primary   audit.Store
	secondary audit.Store
}

// NewFanOut returns a FanOut writing to primary and secondary. If secondary
// is nil, FanOut behaves exactly like primary.
func NewFanOut(primary audit.Store, secondary audit.Store) *FanOut {
	return &FanOut{primary: primary, secondary: secondary}
}

func (f *FanOut) Append(ctx context.Context, records ...audit.Record) error {
	if f.secondary != nil {
		_ = f.secondary.Append(ctx, records...)
	}
	return f.primary.Append(ctx, records...)
}

func (f *FanOut) AppendAdmin(ctx context.Context, records ...audit.AdminRecord) error {
	if f.secondary != nil {
		_ = f.secondary.AppendAdmin(ctx, records...)
	}
	return f.primary.AppendAdmin(ctx, records...)
}

func (f *FanOut) Flush(ctx context.Context) error {
	if f.secondary != nil {
		_ = f.secondary.Flush(ctx)
	}
	return f.primary.Flush(ctx)
}

func (f *FanOut) Close() error {
	if f.secondary != nil {
		_ = f.secondary.Close()
	}
	return f.primary.Close()
}

var _ audit.Store = (*FanOut)(nil)
