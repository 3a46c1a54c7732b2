package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

const roster = `title: Annual General Meeting
segments:
  - name: Chair
    candidates: [Alice, Bob]
  - name: Treasurer
    candidates: [Carol]
voters:
  - {given: Jane, family: Doe}
  - {given: John, family: Roe}
`

func run(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	app := newApp(&out, strings.NewReader(stdin))
	if err := app.Run(context.Background(), append([]string{"agmctl"}, args...)); err != nil {
		t.Fatalf("agmctl %v: %v", args, err)
	}
	return out.String()
}

func TestParseRoster(t *testing.T) {
	spec, err := parseRoster(strings.NewReader(roster))
	if err != nil {
		t.Fatal(err)
	}
	if spec.Title != "Annual General Meeting" || len(spec.Segments) != 2 || len(spec.Voters) != 2 {
		t.Fatalf("unexpected spec %+v", spec)
	}
	if spec.Voters[1] != [2]string{"John", "Roe"} {
		t.Fatalf("unexpected voter %v", spec.Voters[1])
	}
}

func TestParseRosterRejectsBadInput(t *testing.T) {
	cases := []string{
		"segments: []\n",
		"title: x\nvoters:\n  - {given: Jane}\n",
		"title: x\nunknown: 1\n",
	}
	for _, in := range cases {
		if _, err := parseRoster(strings.NewReader(in)); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestSeedListVerifyExport(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "agm.db")
	file := filepath.Join(dir, "roster.yaml")
	if err := os.WriteFile(file, []byte(roster), 0o600); err != nil {
		t.Fatal(err)
	}

	uuid := strings.TrimSpace(run(t, "", "--dsn", dsn, "seed", file))
	if uuid == "" {
		t.Fatal("expected seed to print the session uuid")
	}

	list := run(t, "", "--dsn", dsn, "events", "list")
	if !strings.Contains(list, uuid) || !strings.Contains(list, "active") {
		t.Fatalf("unexpected list output %q", list)
	}

	run(t, "", "--dsn", dsn, "events", "deactivate", "--event", uuid)
	if list = run(t, "", "--dsn", dsn, "events", "list"); !strings.Contains(list, "inactive") {
		t.Fatalf("expected event to be inactive, got %q", list)
	}

	if out := run(t, "", "--dsn", dsn, "audit", "verify", "--event", uuid); !strings.HasPrefix(out, "ok: 0 entries") {
		t.Fatalf("unexpected verify output %q", out)
	}

	csvPath := filepath.Join(dir, "cvr.csv")
	run(t, "", "--dsn", dsn, "export-cvr", "--event", uuid, "--out", csvPath)
	raw, err := os.ReadFile(csvPath)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(raw)) != "ballot_id,segment,candidate,created_at_minute" {
		t.Fatalf("unexpected csv %q", raw)
	}
}

func TestHashPassword(t *testing.T) {
	hash := strings.TrimSpace(run(t, "s3cret\n", "hash-password"))
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")); err != nil {
		t.Fatalf("hash does not match: %v", err)
	}
}
