package migrations

import (
	"sort"
	"strings"
	"testing"
)

func TestEmbedded_OrderedAndNonEmpty(t *testing.T) {
	all, err := embedded()
	if err != nil {
		t.Fatalf("embedded() error: %v", err)
	}
	if len(all) < 2 {
		t.Fatalf("embedded() returned %d files, want >= 2", len(all))
	}

	versions := make([]string, len(all))
	for i, m := range all {
		versions[i] = m.version
		if strings.TrimSpace(m.sql) == "" {
			t.Errorf("migration %q is empty", m.version)
		}
	}
	if !sort.StringsAreSorted(versions) {
		t.Errorf("versions not sorted: %v", versions)
	}
}

func TestEmbedded_CreatesRequiredTables(t *testing.T) {
	all, err := embedded()
	if err != nil {
		t.Fatalf("embedded() error: %v", err)
	}
	var joined strings.Builder
	for _, m := range all {
		joined.WriteString(m.sql)
	}
	for _, table := range requiredTables {
		if !strings.Contains(joined.String(), "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("no migration creates table %q", table)
		}
	}
}

func TestPending_SkipsApplied(t *testing.T) {
	all := []migration{{version: "001_a.sql"}, {version: "002_b.sql"}, {version: "003_c.sql"}}

	got := pending(all, map[string]bool{"001_a.sql": true, "003_c.sql": true})
	if len(got) != 1 || got[0].version != "002_b.sql" {
		t.Errorf("pending = %v, want [002_b.sql]", got)
	}

	if got := pending(all, map[string]bool{}); len(got) != 3 {
		t.Errorf("pending with nothing applied = %d, want 3", len(got))
	}
}
