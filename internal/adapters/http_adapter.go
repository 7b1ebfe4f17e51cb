// Package adapters supplies sample implementations of core.Adapter: a
// generic HTTP/JSON price source and a fixed-value adapter for tests and
// local development. Neither is a catalogue of production price feeds —
// those remain external, per the narrow core.Adapter boundary.
package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"flora-consensus/core"
	"flora-consensus/pkg/utils"
)

// HTTPAdapter polls a JSON HTTP endpoint and extracts a price/source pair
// via configurable field names (e.g. {"price": 1.23, "source": "kraken"}).
type HTTPAdapter struct {
	id          string
	entityID    string
	url         string
	priceField  string
	sourceField string
	client      *http.Client
}

// NewHTTPAdapter constructs an HTTPAdapter. priceField and sourceField
// default to "price" and "source" when empty.
func NewHTTPAdapter(id, entityID, url, priceField, sourceField string, client *http.Client) *HTTPAdapter {
	if priceField == "" {
		priceField = "price"
	}
	if sourceField == "" {
		sourceField = "source"
	}
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Second}
	}
	return &HTTPAdapter{id: id, entityID: entityID, url: url, priceField: priceField, sourceField: sourceField, client: client}
}

// ID implements core.Adapter.
func (a *HTTPAdapter) ID() string { return a.id }

// Fetch implements core.Adapter.
func (a *HTTPAdapter) Fetch(ctx context.Context) (core.AdapterRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url, nil)
	if err != nil {
		return core.AdapterRecord{}, utils.Wrap(err, "building adapter request")
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return core.AdapterRecord{}, utils.Wrap(err, "fetching adapter source")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return core.AdapterRecord{}, fmt.Errorf("adapter %s: unexpected status %d: %s", a.id, resp.StatusCode, body)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return core.AdapterRecord{}, utils.Wrap(err, "decoding adapter response")
	}

	price, ok := body[a.priceField]
	if !ok {
		return core.AdapterRecord{}, fmt.Errorf("adapter %s: response missing field %q", a.id, a.priceField)
	}
	source, _ := body[a.sourceField].(string)
	if source == "" {
		source = a.id
	}

	payload := map[string]any{
		"price":  price,
		"source": source,
	}

	return core.AdapterRecord{
		AdapterID:         a.id,
		EntityID:          a.entityID,
		Payload:           payload,
		SourceFingerprint: core.StateHash(payload),
	}, nil
}

var _ core.Adapter = (*HTTPAdapter)(nil)
