package audit_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/helpdesk-io/helpdesk/internal/audit"
	"github.com/helpdesk-io/helpdesk/internal/config"
)

func TestFileShipper_WritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")

	fs, err := audit.NewFileShipper(&config.AuditFileConfig{Path: path})
	if err != nil {
		t.Fatalf("NewFileShipper error: %v", err)
	}
	for _, action := range []string{"app_key.created", "app_auth.denied", "app_key.revoked"} {
		if err := fs.Ship(context.Background(), &audit.Event{Action: action, APIKeyID: "key-1"}); err != nil {
			t.Fatalf("Ship(%s) error: %v", action, err)
		}
	}
	if err := fs.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	var actions []string
	for scanner.Scan() {
		var e audit.Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("line %q is not JSON: %v", scanner.Text(), err)
		}
		if e.APIKeyID != "key-1" {
			t.Errorf("APIKeyID = %q", e.APIKeyID)
		}
		actions = append(actions, e.Action)
	}
	if len(actions) != 3 || actions[1] != "app_auth.denied" {
		t.Errorf("actions = %v", actions)
	}
}

func TestNewFileShipper_InvalidPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodir", "audit.log")
	if _, err := audit.NewFileShipper(&config.AuditFileConfig{Path: path}); err == nil {
		t.Error("expected error for path with nonexistent parent, got nil")
	}
}

func TestFileShipper_RotatesBySize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")

	if err := os.WriteFile(path, make([]byte, 1024*1024+1), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(path+".1", []byte("older\n"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(path+".2", []byte("oldest\n"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	fs, err := audit.NewFileShipper(&config.AuditFileConfig{Path: path, MaxSizeMB: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewFileShipper: %v", err)
	}
	defer fs.Close()

	if err := fs.Ship(context.Background(), &audit.Event{Action: "after-rotate"}); err != nil {
		t.Fatalf("Ship() error: %v", err)
	}

	live, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("live file missing after rotation: %v", err)
	}
	if !bytes.Contains(live, []byte("after-rotate")) || len(live) > 1024 {
		t.Errorf("live file should hold only the new event, got %d bytes", len(live))
	}
	if info, err := os.Stat(path + ".1"); err != nil || info.Size() != 1024*1024+1 {
		t.Errorf("backup .1 should be the rotated file: %v", err)
	}
	if b, err := os.ReadFile(path + ".2"); err != nil || string(b) != "older\n" {
		t.Errorf("backup .2 = %q, %v; want the previous .1", b, err)
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Errorf("backup .3 should not exist, stat err = %v", err)
	}
}
