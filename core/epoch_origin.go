package core

import (
	"context"
	"strconv"
)

// EpochOriginStore is the narrow persistence seam ResolveEpochOrigin needs:
// a plain key/value slot for the one "epochOriginMs" bootstrap value.
type EpochOriginStore interface {
	PutState(ctx context.Context, key string, value string) error
	GetState(ctx context.Context, key string) (value string, ok bool, err error)
}

const epochOriginStateKey = "epochOriginMs"

// ResolveEpochOrigin implements the §4.4 bootstrap rule: epochOriginMs is
// fixed on first boot and reused across restarts, clamped to never exceed
// nowMs (guards against a stale persisted value sitting in the future).
// Precedence: a previously persisted value wins over configured, since the
// whole point is that a restarting petal must keep hashing the same epochs
// it already published; a positive configured value seeds first boot;
// otherwise nowMs seeds it.
func ResolveEpochOrigin(ctx context.Context, store EpochOriginStore, configuredMs int64, nowMs int64) (int64, error) {
	if store != nil {
		if raw, ok, err := store.GetState(ctx, epochOriginStateKey); err != nil {
			return 0, err
		} else if ok {
			if stored, err := strconv.ParseInt(raw, 10, 64); err == nil {
				if stored > nowMs {
					stored = nowMs
				}
				return stored, nil
			}
		}
	}

	origin := configuredMs
	if origin <= 0 {
		origin = nowMs
	}
	if origin > nowMs {
		origin = nowMs
	}
	if store != nil {
		if err := store.PutState(ctx, epochOriginStateKey, strconv.FormatInt(origin, 10)); err != nil {
			return 0, err
		}
	}
	return origin, nil
}
