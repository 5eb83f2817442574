package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// clearConstrainedEnv makes sure platform detection stays off unless a
// test opts in.
func clearConstrainedEnv(t *testing.T) {
	t.Helper()
	for _, name := range constrainedEnvVars {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func TestLoad_Defaults(t *testing.T) {
	// WHAT: With no file and no environment, every knob holds its default.
	// WHY: A bare `fundawatch` invocation must come up with a sane shape.
	clearConstrainedEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Path != "./database.json" {
		t.Errorf("db path = %q", cfg.Database.Path)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Scheduler.MaxConcurrent != 3 || cfg.Scheduler.Floor != time.Minute {
		t.Errorf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Scraper.PageTimeout != 60*time.Second {
		t.Errorf("page timeout = %v", cfg.Scraper.PageTimeout)
	}
	if !cfg.SMTP.StartTLS || cfg.SMTP.Port != 587 {
		t.Errorf("smtp = %+v", cfg.SMTP)
	}
}

func TestLoad_LegacyEnvNames(t *testing.T) {
	// WHAT: The bare DB_PATH and SMTP_* names override defaults.
	// WHY: Existing deployments inject exactly these.
	clearConstrainedEnv(t)
	t.Setenv("DB_PATH", "/data/database.json")
	t.Setenv("SMTP_HOST", "mail.example.com")
	t.Setenv("SMTP_USERNAME", "bot")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Path != "/data/database.json" {
		t.Errorf("db path = %q", cfg.Database.Path)
	}
	if cfg.SMTP.Host != "mail.example.com" || cfg.SMTP.Username != "bot" {
		t.Errorf("smtp = %+v", cfg.SMTP)
	}
}

func TestLoad_PrefixedEnvBeatsFile(t *testing.T) {
	// WHAT: Values layer defaults < yaml file < environment.
	// WHY: Operators override files with env vars, never the reverse.
	clearConstrainedEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "fundawatch.yaml")
	yamlDoc := "smtp:\n  host: file.example.com\n  port: 2525\nscheduler:\n  max_concurrent: 5\n"
	if err := os.WriteFile(path, []byte(yamlDoc), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FUNDAWATCH_SMTP_HOST", "env.example.com")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SMTP.Host != "env.example.com" {
		t.Errorf("smtp host = %q, env should win", cfg.SMTP.Host)
	}
	if cfg.SMTP.Port != 2525 {
		t.Errorf("smtp port = %d, file should win over default", cfg.SMTP.Port)
	}
	if cfg.Scheduler.MaxConcurrent != 5 {
		t.Errorf("max_concurrent = %d, want 5 from file", cfg.Scheduler.MaxConcurrent)
	}
}

func TestLoad_ConstrainedModeTightensKnobs(t *testing.T) {
	// WHAT: A platform environment variable switches on the 30-minute
	// floor, the 30s heartbeat, and the shorter page timeout.
	// WHY: Small instances must not run the full-fat cadence.
	clearConstrainedEnv(t)
	t.Setenv("RAILWAY_ENVIRONMENT", "production")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.Floor != 30*time.Minute {
		t.Errorf("floor = %v, want 30m", cfg.Scheduler.Floor)
	}
	if cfg.Scheduler.Heartbeat != 30*time.Second {
		t.Errorf("heartbeat = %v, want 30s", cfg.Scheduler.Heartbeat)
	}
	if cfg.Scraper.PageTimeout != 30*time.Second {
		t.Errorf("page timeout = %v, want 30s", cfg.Scraper.PageTimeout)
	}
}

func TestConstrained_Detection(t *testing.T) {
	// WHAT: Any of the platform variables flips detection; none means
	// unconstrained.
	// WHY: §6-style environment sniffing is the only signal available.
	clearConstrainedEnv(t)
	if Constrained() {
		t.Error("constrained without platform env")
	}
	t.Setenv("RAILWAY_PROJECT_ID", "abc123")
	if !Constrained() {
		t.Error("not constrained with RAILWAY_PROJECT_ID set")
	}
}

func TestEnvTransform(t *testing.T) {
	// WHAT: Variable names map onto koanf paths; unrelated names vanish.
	// WHY: A stray HOME or PATH must never land in the config tree.
	cases := []struct {
		in   string
		want string
	}{
		{"FUNDAWATCH_SMTP_HOST", "smtp.host"},
		{"FUNDAWATCH_SCHEDULER_MAX_CONCURRENT", "scheduler.max_concurrent"},
		{"FUNDAWATCH_DATABASE_PATH", "database.path"},
		{"FUNDAWATCH_LOG_LEVEL", "log_level"},
		{"DB_PATH", "database.path"},
		{"SMTP_USER", "smtp.username"},
		{"HOME", ""},
		{"PATH", ""},
	}
	for _, tc := range cases {
		if got := envTransform(tc.in); got != tc.want {
			t.Errorf("envTransform(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
