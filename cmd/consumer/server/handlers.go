package server

import (
	"context"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"flora-consensus/core"
)

const maxProofBodyBytes = 1 << 20 // 1MB

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

func (s *server) handleProof(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxProofBodyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) > maxProofBodyBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "proof payload exceeds size limit")
		return
	}

	proof, err := s.deps.Intake.HandleProof(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if proof == nil {
		// A chunk was buffered but the payload isn't complete yet.
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "chunk accepted"})
		return
	}

	s.deps.Aggregator.Accept(*proof)
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *server) handleLatest(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.deps.Coordinator.Latest()
	if !ok {
		writeError(w, http.StatusNotFound, "no consensus entries yet")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type historyResponse struct {
	Total  int                   `json:"total"`
	Offset int                   `json:"offset"`
	Limit  int                   `json:"limit"`
	Items  []core.ConsensusEntry `json:"items"`
}

// handleHistory serves a newest-first, offset/limit window over the full
// consensus history. limit clamps to [1, 200] (default 50); offset clamps
// to >= 0 (default 0). Entries without a backfilled hcsMessage are given
// the canonical hcs://17/<stateTopic> default.
func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	if offset < 0 {
		offset = 0
	}
	limit, err := queryInt(r, "limit", defaultHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	full := s.deps.Coordinator.History() // ascending by epoch
	newestFirst := make([]core.ConsensusEntry, len(full))
	for i, e := range full {
		newestFirst[len(full)-1-i] = e
	}

	total := len(newestFirst)
	items := []core.ConsensusEntry{}
	if offset < total {
		end := offset + limit
		if end > total {
			end = total
		}
		items = append(items, newestFirst[offset:end]...)
	}
	for i := range items {
		if items[i].HCSMessage == "" {
			items[i].HCSMessage = "hcs://17/" + s.deps.FloraStateTopic
		}
	}

	writeJSON(w, http.StatusOK, historyResponse{Total: total, Offset: offset, Limit: limit, Items: items})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

type petalRoster struct {
	PetalID           string            `json:"petalId"`
	AccountID         string            `json:"accountId"`
	PetalStateTopicID string            `json:"petalStateTopicId"`
	PublicKey         string            `json:"publicKey,omitempty"`
	KeyType           string            `json:"keyType,omitempty"`
	Adapters          []string          `json:"adapters"`
	Fingerprints      map[string]string `json:"fingerprints"`
}

type adaptersResponse struct {
	Petals              []petalRoster     `json:"petals"`
	Adapters            []string          `json:"adapters"`
	AdapterFingerprints map[string]string `json:"adapterFingerprints"`
	Network             string            `json:"network"`
	FloraAccountID      string            `json:"floraAccountId"`
	RegistryTopicID     string            `json:"registryTopicId"`
	FloraStateTopicID   string            `json:"floraStateTopicId"`
}

// handleAdapters serves the per-petal adapter roster plus the aggregate
// adapter set/fingerprints and ambient network metadata.
func (s *server) handleAdapters(w http.ResponseWriter, r *http.Request) {
	entries := s.deps.Intake.Roster()

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	petals := make([]petalRoster, 0, len(entries))
	aggregateAdapters := map[string]struct{}{}
	aggregateFingerprints := map[string]string{}
	for _, e := range entries {
		pr := petalRoster{
			PetalID:           e.PetalID,
			AccountID:         e.PetalAccountID,
			PetalStateTopicID: e.PetalStateTopicID,
			Adapters:          e.AdapterIDs,
			Fingerprints:      e.Fingerprints,
		}
		if s.deps.Ledger != nil && e.PetalAccountID != "" {
			if pk, kt, err := s.deps.Ledger.AccountKey(ctx, e.PetalAccountID); err == nil {
				pr.PublicKey, pr.KeyType = pk, kt
			}
		}
		for id, fp := range e.Fingerprints {
			aggregateAdapters[id] = struct{}{}
			aggregateFingerprints[id] = fp
		}
		petals = append(petals, pr)
	}

	adapterIDs := make([]string, 0, len(aggregateAdapters))
	for id := range aggregateAdapters {
		adapterIDs = append(adapterIDs, id)
	}
	sort.Strings(adapterIDs)

	writeJSON(w, http.StatusOK, adaptersResponse{
		Petals:              petals,
		Adapters:            adapterIDs,
		AdapterFingerprints: aggregateFingerprints,
		Network:             s.deps.Network,
		FloraAccountID:      s.deps.FloraAccountID,
		RegistryTopicID:     s.deps.RegistryTopicID,
		FloraStateTopicID:   s.deps.FloraStateTopic,
	})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
