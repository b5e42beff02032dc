// Package usage persists per-organization retrieval analytics: daily outcome
// counters and a capped log of knowledge gaps.
package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/agrisage-cloud/knowd/internal/domain"
	domusage "github.com/agrisage-cloud/knowd/internal/domain/usage"
)

const (
	fieldQueries = "queries"
	fieldCovered = "covered"
	fieldGaps    = "gaps"

	// maxGapEntries caps the per-organization gap log.
	maxGapEntries = 1000
)

// store is the consumer interface for usage persistence (ISP).
type store interface {
	HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Expire(ctx context.Context, key string, ttl time.Duration, nx bool) error
	RPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LTrim(ctx context.Context, key string, start, stop int64) error
}

// Repo stores usage counters as daily hashes and gaps as a capped list.
type Repo struct {
	store     store
	retention time.Duration
}

// New creates a usage repository. retention is the TTL applied to daily
// counter keys (recommended: 90 days).
func New(s store, retention time.Duration) *Repo {
	return &Repo{store: s, retention: retention}
}

// RecordOutcome counts one retrieval for the organization on the given day.
// Covered retrievals had at least one relevant hit.
func (r *Repo) RecordOutcome(ctx context.Context, orgID string, at time.Time, covered bool) error {
	key := dayKey(orgID, at)

	if _, err := r.store.HIncrBy(ctx, key, fieldQueries, 1); err != nil {
		return fmt.Errorf("incr usage %s: %w", key, err)
	}
	outcome := fieldGaps
	if covered {
		outcome = fieldCovered
	}
	if _, err := r.store.HIncrBy(ctx, key, outcome, 1); err != nil {
		return fmt.Errorf("incr usage %s: %w", key, err)
	}

	// TTL only on first touch (NX), so the window is not extended on repeat.
	if err := r.store.Expire(ctx, key, r.retention, true); err != nil {
		return fmt.Errorf("expire usage %s: %w", key, err)
	}
	return nil
}

// AppendGap records an unserved query and trims the log to the newest entries.
func (r *Repo) AppendGap(ctx context.Context, orgID string, entry domusage.GapEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal gap entry: %w", err)
	}

	key := gapsKey(orgID)
	if err := r.store.RPush(ctx, key, string(data)); err != nil {
		return fmt.Errorf("push gap %s: %w", key, err)
	}
	if err := r.store.LTrim(ctx, key, -maxGapEntries, -1); err != nil {
		return fmt.Errorf("trim gaps %s: %w", key, err)
	}
	return nil
}

// CountersRange sums daily counters over [from, to] inclusive, by UTC day.
func (r *Repo) CountersRange(ctx context.Context, orgID string, from, to time.Time) (domusage.Counters, error) {
	var total domusage.Counters

	day := from.UTC().Truncate(24 * time.Hour)
	end := to.UTC().Truncate(24 * time.Hour)
	for ; !day.After(end); day = day.AddDate(0, 0, 1) {
		key := dayKey(orgID, day)
		fields, err := r.store.HGetAll(ctx, key)
		if err != nil {
			return domusage.Counters{}, fmt.Errorf("get usage %s: %w", key, err)
		}
		total.Queries += parseCounter(fields[fieldQueries])
		total.Covered += parseCounter(fields[fieldCovered])
		total.Gaps += parseCounter(fields[fieldGaps])
	}
	return total, nil
}

// GapsSince returns gap entries recorded at or after since (unix millis),
// oldest first. Corrupt log entries are skipped.
func (r *Repo) GapsSince(ctx context.Context, orgID string, since int64) ([]domusage.GapEntry, error) {
	key := gapsKey(orgID)
	raw, err := r.store.LRange(ctx, key, 0, -1)
	if err != nil {
		return nil, fmt.Errorf("range gaps %s: %w", key, err)
	}

	var entries []domusage.GapEntry
	for _, item := range raw {
		var e domusage.GapEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			continue
		}
		if e.At >= since {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func dayKey(orgID string, at time.Time) string {
	return domain.KeyPrefix + "usage:" + orgID + ":" + at.UTC().Format("2006-01-02")
}

func gapsKey(orgID string) string {
	return domain.KeyPrefix + "usage:" + orgID + ":gaps"
}

func parseCounter(s string) int64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
