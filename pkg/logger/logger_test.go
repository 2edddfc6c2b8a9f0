package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitWritesJSONToFile(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "app.log")
	if err := Init(Config{Level: "debug", OutputPaths: []string{out}}); err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	t.Cleanup(func() { _ = Init(Config{}) })

	Named("swap").Debug("状态迁移", "to", "settled")
	if err := Sync(); err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, data)
	}
	if entry["component"] != "swap" || entry["to"] != "settled" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestAuditLoggerUsesSeparateFile(t *testing.T) {
	dir := t.TempDir()
	auditPath := filepath.Join(dir, "audit", "audit.log")
	if err := Init(Config{Format: "text", OutputPaths: []string{"stderr"}, Audit: AuditConfig{Enabled: true, Path: auditPath}}); err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	t.Cleanup(func() { _ = Init(Config{}) })

	Audit().Info("swap_settled", "job_id", "abc")
	if err := Sync(); err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	data, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	if !strings.Contains(string(data), `"job_id":"abc"`) {
		t.Fatalf("audit entry missing: %s", data)
	}
}

func TestAuditRequiresPath(t *testing.T) {
	if err := Init(Config{Audit: AuditConfig{Enabled: true}}); err == nil {
		t.Fatalf("expected error for empty audit path")
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("WARNING").String() != "WARN" || parseLevel("bogus").String() != "INFO" {
		t.Fatalf("unexpected level parsing")
	}
}
