package store

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
)

var migrationName = regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)

func TestEveryMigrationHasUpAndDown(t *testing.T) {
	dir := filepath.Join("..", "..", "db", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	directions := map[string]map[string]bool{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationName.FindStringSubmatch(entry.Name())
		if match == nil {
			t.Fatalf("unexpected file in migrations dir: %s", entry.Name())
		}
		version, direction := match[1], match[2]
		if directions[version] == nil {
			directions[version] = map[string]bool{}
		}
		if directions[version][direction] {
			t.Fatalf("version %s has more than one %s file", version, direction)
		}
		directions[version][direction] = true
	}

	if len(directions) == 0 {
		t.Fatal("no migrations found")
	}
	for version, dirs := range directions {
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("version %s is missing its up or down file", version)
		}
	}
}
