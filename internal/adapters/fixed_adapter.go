package adapters

import (
	"context"

	"flora-consensus/core"
)

// FixedAdapter returns a constant price/source pair. Used by tests and
// local development in place of a live price source.
type FixedAdapter struct {
	id       string
	entityID string
	price    float64
	source   string
}

// NewFixedAdapter constructs a FixedAdapter.
func NewFixedAdapter(id, entityID string, price float64, source string) *FixedAdapter {
	return &FixedAdapter{id: id, entityID: entityID, price: price, source: source}
}

// ID implements core.Adapter.
func (a *FixedAdapter) ID() string { return a.id }

// Fetch implements core.Adapter.
func (a *FixedAdapter) Fetch(ctx context.Context) (core.AdapterRecord, error) {
	payload := map[string]any{
		"price":  a.price,
		"source": a.source,
	}

	return core.AdapterRecord{
		AdapterID:         a.id,
		EntityID:          a.entityID,
		Payload:           payload,
		SourceFingerprint: core.StateHash(payload),
	}, nil
}

var _ core.Adapter = (*FixedAdapter)(nil)
