package account

import (
	"errors"
	"testing"
)

func TestParseRecordRoundTrip(t *testing.T) {
	t.Parallel()
	in := "user@example.com\nhunter2\n051001, 051011, !051003\n"

	rec, repaired, err := ParseRecord([]byte(in))
	if err != nil {
		t.Fatalf("ParseRecord error: %v", err)
	}
	if len(repaired) != 0 {
		t.Fatalf("unexpected repairs: %v", repaired)
	}
	if rec.Email != "user@example.com" || rec.Password != "hunter2" {
		t.Fatalf("identity = %q / %q", rec.Email, rec.Password)
	}
	if !rec.IsRegistered("051001") || !rec.IsRegistered("051011") {
		t.Fatalf("registered = %v", rec.RegisteredIDs())
	}
	if !rec.IsExcluded("051003") {
		t.Fatalf("excluded = %v", rec.ExcludedIDs())
	}

	if got := rec.CourseLine(); got != "051001, 051011, !051003" {
		t.Fatalf("CourseLine = %q", got)
	}
	if got := string(rec.Encode()); got != in {
		t.Fatalf("Encode = %q, want %q", got, in)
	}
}

func TestParseRecordVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		in         string
		registered int
		excluded   int
	}{
		{name: "no course line", in: "a@b.c\npw\n", registered: 0, excluded: 0},
		{name: "empty course line", in: "a@b.c\npw\n\n", registered: 0, excluded: 0},
		{name: "whitespace tokens", in: "a@b.c\npw\n 051001 ,  !051003 , \n", registered: 1, excluded: 1},
		{name: "only exclusions", in: "a@b.c\npw\n!051001, !051002\n", registered: 0, excluded: 2},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			rec, _, err := ParseRecord([]byte(tt.in))
			if err != nil {
				t.Fatalf("ParseRecord error: %v", err)
			}
			if got := len(rec.Registered); got != tt.registered {
				t.Fatalf("registered count = %d, want %d", got, tt.registered)
			}
			if got := len(rec.Excluded); got != tt.excluded {
				t.Fatalf("excluded count = %d, want %d", got, tt.excluded)
			}
		})
	}
}

func TestParseRecordCorrupt(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"", "only-email\n", "\n\n"} {
		if _, _, err := ParseRecord([]byte(in)); !errors.Is(err, ErrCorrupt) {
			t.Fatalf("ParseRecord(%q) err = %v, want ErrCorrupt", in, err)
		}
	}
}

func TestParseRecordRepairsOverlap(t *testing.T) {
	t.Parallel()
	rec, repaired, err := ParseRecord([]byte("a@b.c\npw\n051001, !051001, 051002\n"))
	if err != nil {
		t.Fatalf("ParseRecord error: %v", err)
	}
	if len(repaired) != 1 || repaired[0] != "051001" {
		t.Fatalf("repaired = %v, want [051001]", repaired)
	}
	if rec.IsRegistered("051001") {
		t.Fatal("051001 must not stay registered while excluded")
	}
	if !rec.IsExcluded("051001") || !rec.IsRegistered("051002") {
		t.Fatalf("unexpected sets: reg=%v excl=%v", rec.RegisteredIDs(), rec.ExcludedIDs())
	}
}

func TestMarkRegisteredRespectsExclusion(t *testing.T) {
	t.Parallel()
	rec := NewRecord("a@b.c", "pw")
	rec.Excluded["051003"] = struct{}{}

	rec.MarkRegistered("051003")
	if rec.IsRegistered("051003") {
		t.Fatal("excluded course must not become registered")
	}

	rec.MarkRegistered("051002")
	rec.MarkRegistered("051002") // idempotent
	if got := rec.CourseLine(); got != "051002, !051003" {
		t.Fatalf("CourseLine = %q", got)
	}
}
