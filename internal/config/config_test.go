package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/FranksOps/scout/internal/serp"
	"github.com/spf13/pflag"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func flags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("scout", pflag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return fs
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(flags(t), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	d := Defaults()
	if cfg.Limit != d.Limit || cfg.PerQuery != d.PerQuery || cfg.Output != d.Output || cfg.Ledger != d.Ledger {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if !cfg.Fallback || cfg.FetchTimeout != 8*time.Second || cfg.DelayDuration() != time.Second {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if err := cfg.Validate(); !errors.Is(err, ErrMissingSuffix) {
		t.Errorf("expected ErrMissingSuffix, got %v", err)
	}
}

func TestLoadPrecedence(t *testing.T) {
	file := writeFile(t, "scout.yaml", `
domain: file.example
limit: 5
cms: joomla
delay: 2.5
fetch_timeout: 3s
log:
  level: warn
credentials:
  - key: FILEKEY0001
    cx: cx-file
`)
	t.Setenv("SCOUT_LIMIT", "7")
	t.Setenv("SCOUT_LOG_LEVEL", "debug")

	cfg, err := Load(flags(t, "--limit=9"), file)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Limit != 9 {
		t.Errorf("flag should win, got limit %d", cfg.Limit)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("env should beat file, got level %q", cfg.Log.Level)
	}
	if cfg.Domain != "file.example" || cfg.CMS != "joomla" || cfg.Delay != 2.5 || cfg.FetchTimeout != 3*time.Second {
		t.Errorf("file values not applied: %+v", cfg)
	}
	want := []serp.Credential{{Key: "FILEKEY0001", CX: "cx-file"}}
	if len(cfg.Credentials) != 1 || cfg.Credentials[0] != want[0] {
		t.Errorf("credentials = %v, want %v", cfg.Credentials, want)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadCredentialsFromEnvAndFile(t *testing.T) {
	credFile := writeFile(t, "creds.txt", "# backups\nKEY3:cx3\nKEY1:cx1\n")
	t.Setenv("SCOUT_CREDENTIALS", "KEY1:cx1,KEY2:0123:abc")
	t.Setenv("SCOUT_CREDENTIALS_FILE", credFile)

	cfg, err := Load(flags(t), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []serp.Credential{{Key: "KEY1", CX: "cx1"}, {Key: "KEY2", CX: "0123:abc"}, {Key: "KEY3", CX: "cx3"}}
	if len(cfg.Credentials) != len(want) {
		t.Fatalf("credentials = %v, want %v", cfg.Credentials, want)
	}
	for i := range want {
		if cfg.Credentials[i] != want[i] {
			t.Errorf("credential %d = %v, want %v", i, cfg.Credentials[i], want[i])
		}
	}
}

func TestLoadCredentialFlagsBeatEnv(t *testing.T) {
	t.Setenv("SCOUT_CREDENTIALS", "ENVKEY:cx-env")
	cfg, err := Load(flags(t, "--credential", "A:cx-a", "--credential", "B:cx-b"), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Credentials) != 2 || cfg.Credentials[0].Key != "A" || cfg.Credentials[1].Key != "B" {
		t.Errorf("unexpected credentials %v", cfg.Credentials)
	}
}

func TestParseCredentials(t *testing.T) {
	creds, err := ParseCredentials(" A:1 ,\n\nB:2:3,A:1")
	if err != nil {
		t.Fatalf("ParseCredentials: %v", err)
	}
	if len(creds) != 2 || creds[1].CX != "2:3" {
		t.Errorf("unexpected %v", creds)
	}
	for _, bad := range []string{"nocolon", ":cx", "key:"} {
		if _, err := ParseCredentials(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestLoadCredentialsFileYAML(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
		err  bool
	}{
		{"list", "- key: K1\n  cx: C1\n- key: K2\n  cx: C2\n", 2, false},
		{"wrapped", "credentials:\n  - key: K1\n    cx: C1\n", 1, false},
		{"empty", "", 0, false},
		{"missing cx", "- key: K1\n", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds, err := LoadCredentialsFile(writeFile(t, "creds.yaml", tt.body))
			if (err != nil) != tt.err {
				t.Fatalf("err = %v, want error %v", err, tt.err)
			}
			if len(creds) != tt.want {
				t.Errorf("got %d credentials, want %d", len(creds), tt.want)
			}
		})
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Domain = "  https://Example.OR.id/path "
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Domain != "Example.OR.id" {
		t.Errorf("domain not normalized: %q", cfg.Domain)
	}

	cfg.PerQuery = 0
	cfg.Mode = "pdf"
	cfg.Fallback = false
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"per_query", "unknown mode", "fallback disabled"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestValidateNumericBounds(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Config)
		want string
	}{
		{"per_query over api depth", func(c *Config) { c.PerQuery = MaxPerQuery + 1 }, "per_query"},
		{"nan delay", func(c *Config) { c.Delay = math.NaN() }, "delay"},
		{"infinite delay", func(c *Config) { c.Delay = math.Inf(1) }, "delay"},
		{"nan rps", func(c *Config) { c.ProviderRPS = math.NaN() }, "provider_rps"},
		{"infinite rps", func(c *Config) { c.ProviderRPS = math.Inf(1) }, "provider_rps"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Domain = "or.id"
			tt.mod(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected %s error, got %v", tt.want, err)
			}
		})
	}

	cfg := Defaults()
	cfg.Domain = "or.id"
	cfg.PerQuery = MaxPerQuery
	cfg.ProviderRPS = 2e9
	if err := cfg.Validate(); err != nil {
		t.Errorf("boundary values rejected: %v", err)
	}
}
