package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.PresenceStaleness.Std() != 60*time.Second {
		t.Errorf("presence staleness = %s, want 60s", cfg.PresenceStaleness.Std())
	}
	if cfg.HeartbeatInterval.Std() != 30*time.Second {
		t.Errorf("heartbeat interval = %s, want 30s", cfg.HeartbeatInterval.Std())
	}
	if cfg.TypingDebounce.Std() != 300*time.Millisecond {
		t.Errorf("typing debounce = %s, want 300ms", cfg.TypingDebounce.Std())
	}
	if cfg.TypingExpiry.Std() != 3*time.Second {
		t.Errorf("typing expiry = %s, want 3s", cfg.TypingExpiry.Std())
	}
	if cfg.MessageMaxLength != 1000 {
		t.Errorf("max length = %d, want 1000", cfg.MessageMaxLength)
	}
}

func TestLoadTOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "msgd.toml")
	content := `
data_dir = "/var/lib/msgd"
presence_staleness = "90s"
typing_expiry = "5s"
message_max_length = 500
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir != "/var/lib/msgd" {
		t.Errorf("data dir = %q", cfg.DataDir)
	}
	if cfg.PresenceStaleness.Std() != 90*time.Second {
		t.Errorf("presence staleness = %s, want 90s", cfg.PresenceStaleness.Std())
	}
	if cfg.TypingExpiry.Std() != 5*time.Second {
		t.Errorf("typing expiry = %s, want 5s", cfg.TypingExpiry.Std())
	}
	if cfg.MessageMaxLength != 500 {
		t.Errorf("max length = %d, want 500", cfg.MessageMaxLength)
	}
	// Untouched fields keep defaults.
	if cfg.TypingDebounce.Std() != 300*time.Millisecond {
		t.Errorf("typing debounce = %s, want default 300ms", cfg.TypingDebounce.Std())
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "msgd.toml")
	if err := os.WriteFile(path, []byte(`typing_expiry = "5s"`), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MSGD_TYPING_EXPIRY", "7s")
	t.Setenv("MSGD_MESSAGE_PAGE_SIZE", "25")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TypingExpiry.Std() != 7*time.Second {
		t.Errorf("typing expiry = %s, want env override 7s", cfg.TypingExpiry.Std())
	}
	if cfg.MessagePageSize != 25 {
		t.Errorf("page size = %d, want 25", cfg.MessagePageSize)
	}
}

func TestValidateRejectsBadWindow(t *testing.T) {
	cfg := Default()
	cfg.PresenceStaleness = cfg.HeartbeatInterval
	if err := cfg.Validate(); err == nil {
		t.Error("staleness window equal to heartbeat interval must be rejected")
	}

	cfg = Default()
	cfg.MessageMaxLength = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero max length must be rejected")
	}
}

func TestLoadMissingNamedFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("missing named config file must fail")
	}
}
