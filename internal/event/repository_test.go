package event

import (
	"context"
	"errors"
	"testing"

	"github.com/SlpAus/agm-voting-backend/internal/testutil"
)

func TestSeedAndLookup(t *testing.T) {
	db := testutil.OpenDB(t, Models()...)
	ctx := context.Background()

	ev, err := Seed(ctx, db, RosterSpec{
		Title: "AGM",
		Segments: []SegmentSpec{
			{Name: "Chair", Candidates: []string{"Alice", "Bob"}},
			{Name: "Treasurer", Candidates: []string{"Carol"}},
		},
		Voters: [][2]string{{"  Jane ", "Doe"}, {"John", "Roe"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if ev.SessionUUID == "" || !ev.IsActive {
		t.Fatalf("unexpected event %+v", ev)
	}

	got, err := BySessionUUID(ctx, db, ev.SessionUUID)
	if err != nil || got.ID != ev.ID {
		t.Fatalf("lookup by uuid: %v %+v", err, got)
	}

	segments, err := Segments(ctx, db, ev.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(segments) != 2 || segments[0].Name != "Chair" || len(segments[0].Candidates) != 2 || segments[0].Candidates[0].Name != "Alice" {
		t.Fatalf("unexpected segments %+v", segments)
	}

	voter, err := FindVoter(db, ev.ID, "JANE", "doe ")
	if err != nil {
		t.Fatal(err)
	}
	if voter.GivenName != "Jane" {
		t.Fatalf("expected trimmed name, got %q", voter.GivenName)
	}
}

func TestLookupMissing(t *testing.T) {
	db := testutil.OpenDB(t, Models()...)
	ctx := context.Background()

	if _, err := BySessionUUID(ctx, db, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := BySessionUUID(ctx, db, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := ByID(ctx, db, 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := SetActive(ctx, db, "nope", false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetActiveAndList(t *testing.T) {
	db := testutil.OpenDB(t, Models()...)
	ctx := context.Background()

	first, err := Seed(ctx, db, RosterSpec{Title: "first"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Seed(ctx, db, RosterSpec{Title: "second"}); err != nil {
		t.Fatal(err)
	}

	if err := SetActive(ctx, db, first.SessionUUID, false); err != nil {
		t.Fatal(err)
	}
	got, err := ByID(ctx, db, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.IsActive {
		t.Fatal("expected event to be inactive")
	}

	events, err := List(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[0].Title != "second" {
		t.Fatalf("unexpected list %+v", events)
	}
}
