package usage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/agrisage-cloud/knowd/internal/db/memory"
	domusage "github.com/agrisage-cloud/knowd/internal/domain/usage"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	return New(memory.NewStore(), 90*24*time.Hour)
}

func TestRecordOutcome_CountsPerDay(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	day := time.Date(2026, 8, 20, 14, 30, 0, 0, time.UTC)

	for range 3 {
		if err := repo.RecordOutcome(ctx, "org-1", day, true); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := repo.RecordOutcome(ctx, "org-1", day, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := repo.CountersRange(ctx, "org-1", day, day)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := domusage.Counters{Queries: 4, Covered: 3, Gaps: 1}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestCountersRange_SumsAcrossDays(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	day1 := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	day3 := day1.AddDate(0, 0, 2)

	if err := repo.RecordOutcome(ctx, "org-1", day1, true); err != nil {
		t.Fatal(err)
	}
	if err := repo.RecordOutcome(ctx, "org-1", day2, false); err != nil {
		t.Fatal(err)
	}
	if err := repo.RecordOutcome(ctx, "org-1", day3, true); err != nil {
		t.Fatal(err)
	}

	// Window excludes day3.
	got, err := repo.CountersRange(ctx, "org-1", day1, day2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Queries != 2 || got.Covered != 1 || got.Gaps != 1 {
		t.Fatalf("unexpected counters: %+v", got)
	}
}

func TestCountersRange_IsolatedByOrg(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	day := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	if err := repo.RecordOutcome(ctx, "org-1", day, true); err != nil {
		t.Fatal(err)
	}

	got, err := repo.CountersRange(ctx, "org-2", day, day)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Queries != 0 {
		t.Fatalf("expected zero counters for other org, got %+v", got)
	}
}

func TestAppendGap_RoundTripAndFilter(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	old := domusage.GapEntry{Query: "frost risk in may", AccessibleCount: 0, At: 1000}
	recent := domusage.GapEntry{Query: "potato blight treatment", AccessibleCount: 5, BestScore: 0.12, At: 5000}
	for _, e := range []domusage.GapEntry{old, recent} {
		if err := repo.AppendGap(ctx, "org-1", e); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	got, err := repo.GapsSince(ctx, "org-1", 2000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	if got[0].Query != "potato blight treatment" || got[0].BestScore != 0.12 {
		t.Fatalf("unexpected entry: %+v", got[0])
	}
}

func TestAppendGap_CapsLog(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i := range maxGapEntries + 50 {
		e := domusage.GapEntry{Query: fmt.Sprintf("q-%d", i), At: int64(i)}
		if err := repo.AppendGap(ctx, "org-1", e); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	got, err := repo.GapsSince(ctx, "org-1", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != maxGapEntries {
		t.Fatalf("expected log capped at %d, got %d", maxGapEntries, len(got))
	}
	// Oldest entries are the ones dropped.
	if got[0].At != 50 {
		t.Fatalf("expected oldest surviving entry At=50, got %d", got[0].At)
	}
}
