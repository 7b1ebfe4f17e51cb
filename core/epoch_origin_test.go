package core_test

import (
	"context"
	"testing"

	. "flora-consensus/core"
)

type memEpochStore struct {
	values map[string]string
}

func newMemEpochStore() *memEpochStore { return &memEpochStore{values: map[string]string{}} }

func (s *memEpochStore) PutState(ctx context.Context, key, value string) error {
	s.values[key] = value
	return nil
}

func (s *memEpochStore) GetState(ctx context.Context, key string) (string, bool, error) {
	v, ok := s.values[key]
	return v, ok, nil
}

func TestResolveEpochOriginSeedsFromConfigOnFirstBoot(t *testing.T) {
	store := newMemEpochStore()
	got, err := ResolveEpochOrigin(context.Background(), store, 1_000, 5_000)
	if err != nil {
		t.Fatalf("ResolveEpochOrigin() error = %v", err)
	}
	if got != 1_000 {
		t.Fatalf("ResolveEpochOrigin() = %d, want 1000", got)
	}
	if v, _, _ := store.GetState(context.Background(), "epochOriginMs"); v != "1000" {
		t.Fatalf("epochOriginMs not persisted, got %q", v)
	}
}

func TestResolveEpochOriginSeedsFromNowWhenUnconfigured(t *testing.T) {
	store := newMemEpochStore()
	got, err := ResolveEpochOrigin(context.Background(), store, 0, 5_000)
	if err != nil {
		t.Fatalf("ResolveEpochOrigin() error = %v", err)
	}
	if got != 5_000 {
		t.Fatalf("ResolveEpochOrigin() = %d, want 5000", got)
	}
}

func TestResolveEpochOriginReusesPersistedValueAcrossRestarts(t *testing.T) {
	store := newMemEpochStore()
	if _, err := ResolveEpochOrigin(context.Background(), store, 1_000, 5_000); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	// A later restart with a different configured value must still use the
	// persisted origin: otherwise the petal would disagree with itself
	// (and the rest of the flora) about epoch boundaries.
	got, err := ResolveEpochOrigin(context.Background(), store, 4_000, 50_000)
	if err != nil {
		t.Fatalf("ResolveEpochOrigin() error = %v", err)
	}
	if got != 1_000 {
		t.Fatalf("ResolveEpochOrigin() = %d, want persisted 1000", got)
	}
}

func TestResolveEpochOriginClampsPersistedValueToNow(t *testing.T) {
	store := newMemEpochStore()
	if err := store.PutState(context.Background(), "epochOriginMs", "10000"); err != nil {
		t.Fatalf("seeding store: %v", err)
	}

	got, err := ResolveEpochOrigin(context.Background(), store, 0, 5_000)
	if err != nil {
		t.Fatalf("ResolveEpochOrigin() error = %v", err)
	}
	if got != 5_000 {
		t.Fatalf("ResolveEpochOrigin() = %d, want clamped to now (5000)", got)
	}
}

func TestResolveEpochOriginWithoutStoreClampsConfiguredToNow(t *testing.T) {
	got, err := ResolveEpochOrigin(context.Background(), nil, 10_000, 5_000)
	if err != nil {
		t.Fatalf("ResolveEpochOrigin() error = %v", err)
	}
	if got != 5_000 {
		t.Fatalf("ResolveEpochOrigin() = %d, want clamped to now (5000)", got)
	}
}
