package routing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/copytrade/router/internal/filter"
)

const exampleDoc = `{
	"accounts": {"src": {"nickname": "source"}, "dst": {"nickname": "dest"}},
	"ruleSets": {"conservative": {"type": "proportional", "multiplier": 1}},
	"routes": [{"id": "r1", "source": "src", "destination": "dst", "ruleSet": "conservative", "enabled": true}]
}`

func TestLoadFileReadsExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "routing.json")
	if err := os.WriteFile(path, []byte(exampleDoc), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg, err := LoadFile(path, "", filter.NewRegistry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Routes) != 1 {
		t.Fatalf("unexpected routes: %+v", cfg.Routes)
	}
}

func TestLoadFileBootstrapsFromExampleWhenMissing(t *testing.T) {
	dir := t.TempDir()
	examplePath := filepath.Join(dir, "routing.example.json")
	if err := os.WriteFile(examplePath, []byte(exampleDoc), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	path := filepath.Join(dir, "routing.json")

	cfg, err := LoadFile(path, examplePath, filter.NewRegistry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Routes) != 1 {
		t.Fatalf("unexpected routes: %+v", cfg.Routes)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected the example to be copied into place, got: %v", err)
	}
}

func TestLoadFileMissingWithNoExampleFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "routing.json")
	if _, err := LoadFile(path, "", filter.NewRegistry()); err == nil {
		t.Fatalf("expected a missing file with no example to fail")
	}
}

func TestLoadFileInvalidJSONFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "routing.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := LoadFile(path, "", filter.NewRegistry()); err == nil {
		t.Fatalf("expected invalid JSON to fail loading")
	}
}
