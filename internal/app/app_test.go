package app

import (
	"context"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/glogos/glogos/internal/attestation"
	"github.com/glogos/glogos/internal/config"
)

func loadTestConfig(t *testing.T, body string) *config.NodeConfig {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.LoadNode(path)
	if err != nil {
		t.Fatalf("LoadNode: %v", err)
	}
	return cfg
}

func TestNewWiresSQLiteNode(t *testing.T) {
	dir := t.TempDir()
	genesis := attestation.GenesisZone()
	zonesPath := filepath.Join(dir, "zones.yaml")
	zones := "zones:\n  - name: genesis\n    public_key: \"" + hex.EncodeToString(genesis.PublicKey) + "\"\n"
	if err := os.WriteFile(zonesPath, []byte(zones), 0o600); err != nil {
		t.Fatalf("write registry: %v", err)
	}
	cfg := loadTestConfig(t, `
storage:
  driver: sqlite
  sqlite_path: "`+filepath.Join(dir, "node.db")+`"
registry:
  zones_path: "`+zonesPath+`"
logging:
  node_id: test-node
`)

	application, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer application.Store.Close()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "127.0.0.1:5000"
	application.Server.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from healthz, got %d: %s", rec.Code, rec.Body.String())
	}
	health, err := application.Service.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.TrustedZones != 1 || health.NodeID != "test-node" {
		t.Fatalf("unexpected health %+v", health)
	}
}

func TestNewAppliesIPAllowList(t *testing.T) {
	cfg := loadTestConfig(t, `
security:
  trusted_cidrs: ["10.0.0.0/8"]
`)
	application, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer application.Store.Close()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "192.0.2.1:5000"
	application.Server.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 outside allow list, got %d", rec.Code)
	}
}

func TestNewFailsOnMissingRegistry(t *testing.T) {
	cfg := loadTestConfig(t, `
registry:
  zones_path: "`+filepath.Join(t.TempDir(), "absent.yaml")+`"
`)
	if _, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatalf("expected registry load error")
	}
}
