package authority

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	config, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if config.Listen != ":8080" {
		t.Errorf("Listen = %q, want :8080", config.Listen)
	}
	if config.FailureRedirect != "/" {
		t.Errorf("FailureRedirect = %q, want /", config.FailureRedirect)
	}
	if got := config.Lifetimes.Code.Std(); got != time.Hour {
		t.Errorf("Lifetimes.Code = %v, want 1h", got)
	}
	if got := config.Lifetimes.Token.Std(); got != 7*24*time.Hour {
		t.Errorf("Lifetimes.Token = %v, want 168h", got)
	}
	if config.RateLimit.Access.Points != 10 || config.RateLimit.Access.Window.Std() != time.Second {
		t.Errorf("Access quota = %+v, want 10 per 1s", config.RateLimit.Access)
	}
	if config.RateLimit.Error.Points != 100 || config.RateLimit.Error.Block.Std() != 30*24*time.Hour {
		t.Errorf("Error quota = %+v, want 100 with 720h block", config.RateLimit.Error)
	}
	if config.RateLimit.Route.Points != 600 {
		t.Errorf("Route quota points = %d, want 600", config.RateLimit.Route.Points)
	}
	if config.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver = %q, want sqlite", config.Database.Driver)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
listen: ":9090"
lifetimes:
  code: 90s
  token: 24h
ratelimit:
  access:
    points: 5
    window: 2s
    block: 10m
  trusted_address: 127.0.0.1
  expose_headers: true
database:
  driver: postgres
  dsn: host=db user=authority
sweep_interval: 30m
audit: true
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if config.Listen != ":9090" {
		t.Errorf("Listen = %q, want :9090", config.Listen)
	}
	if got := config.Lifetimes.Code.Std(); got != 90*time.Second {
		t.Errorf("Lifetimes.Code = %v, want 90s", got)
	}
	if got := config.Lifetimes.Token.Std(); got != 24*time.Hour {
		t.Errorf("Lifetimes.Token = %v, want 24h", got)
	}
	if config.RateLimit.Access.Points != 5 || config.RateLimit.Access.Block.Std() != 10*time.Minute {
		t.Errorf("Access quota = %+v, want 5 per 2s block 10m", config.RateLimit.Access)
	}
	if config.RateLimit.TrustedAddress != "127.0.0.1" {
		t.Errorf("TrustedAddress = %q, want 127.0.0.1", config.RateLimit.TrustedAddress)
	}
	if !config.RateLimit.ExposeHeaders {
		t.Error("ExposeHeaders = false, want true")
	}
	if config.Database.Driver != "postgres" {
		t.Errorf("Database.Driver = %q, want postgres", config.Database.Driver)
	}
	if got := config.SweepInterval.Std(); got != 30*time.Minute {
		t.Errorf("SweepInterval = %v, want 30m", got)
	}
	if !config.Audit {
		t.Error("Audit = false, want true")
	}

	// Unset sections still pick up defaults.
	if config.RateLimit.Error.Points != 100 {
		t.Errorf("Error quota points = %d, want default 100", config.RateLimit.Error.Points)
	}
	if config.FailureRedirect != "/" {
		t.Errorf("FailureRedirect = %q, want default /", config.FailureRedirect)
	}
}

func TestLoadConfigBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("sweep_interval: soon\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("LoadConfig() with invalid duration succeeded")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/config.yaml"); err == nil {
		t.Error("LoadConfig() with missing file succeeded")
	}
}
