package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseRange(t *testing.T) {
	s, err := parseRange("1:5:2")
	if err != nil {
		t.Fatal(err)
	}
	if len(s) != 3 || s[0] != "1" || s[2] != "5" {
		t.Errorf("range = %v", s)
	}
	if _, err := parseRange("1"); err == nil {
		t.Error("expected error for missing upper bound")
	}
	if _, err := parseRange("a:3"); err == nil {
		t.Error("expected error for non-numeric bound")
	}
}

func TestPayloadSetsOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.txt")
	if err := os.WriteFile(path, []byte("admin\n\nroot\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	sets, err := payloadSets([]string{path}, []string{"7:8"})
	if err != nil {
		t.Fatal(err)
	}
	if len(sets) != 2 || len(sets[0]) != 2 || sets[1][0] != "7" {
		t.Errorf("sets = %v", sets)
	}
}
