package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestTokenStore_SaveAndPersist(t *testing.T) {
	dir := t.TempDir()

	ts, err := NewTokenStore(dir, ServerPaper)
	if err != nil {
		t.Fatalf("NewTokenStore: %v", err)
	}

	tok := Token{AccessToken: "abc123", ExpiresAt: time.Now().Add(time.Hour)}
	if err := ts.Save(tok); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, "token", "token_info_paper.json"))
	if err != nil {
		t.Fatalf("stat token file: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("expected token file mode 0600, got %o", info.Mode().Perm())
	}

	dirInfo, err := os.Stat(filepath.Join(dir, "token"))
	if err != nil {
		t.Fatalf("stat token dir: %v", err)
	}
	if dirInfo.Mode().Perm() != 0o700 {
		t.Errorf("expected token dir mode 0700, got %o", dirInfo.Mode().Perm())
	}

	reloaded, err := NewTokenStore(dir, ServerPaper)
	if err != nil {
		t.Fatalf("reload store: %v", err)
	}
	if reloaded.Current().AccessToken != "abc123" {
		t.Errorf("expected persisted token to survive reload, got %q", reloaded.Current().AccessToken)
	}
}

func TestTokenStore_RefreshBoundary(t *testing.T) {
	dir := t.TempDir()
	ts, err := NewTokenStore(dir, ServerPaper)
	if err != nil {
		t.Fatalf("NewTokenStore: %v", err)
	}

	now := time.Now()
	almostExpired := Token{AccessToken: "x", ExpiresAt: now.Add(9*time.Minute + 59*time.Second)}
	if err := ts.Save(almostExpired); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if ts.EnsureValid(now) {
		t.Error("expected token within 10-minute refresh window to be considered invalid")
	}

	fresh := Token{AccessToken: "y", ExpiresAt: now.Add(30 * time.Minute)}
	if err := ts.Save(fresh); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !ts.EnsureValid(now) {
		t.Error("expected fresh token to be valid")
	}
}

func TestCredentials_Redaction(t *testing.T) {
	c := Credentials{AppKey: "secret-key", AppSecret: "secret-secret", AccountNumber: "1234567890", Server: ServerPaper}
	s := c.String()
	if contains(s, "secret-key") || contains(s, "secret-secret") {
		t.Errorf("expected credentials to be redacted, got %q", s)
	}
}

func contains(s, sub string) bool {
	return len(s) >= len(sub) && (func() bool {
		for i := 0; i+len(sub) <= len(s); i++ {
			if s[i:i+len(sub)] == sub {
				return true
			}
		}
		return false
	})()
}
