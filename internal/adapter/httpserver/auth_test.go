package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/talentsift/screener/internal/config"
)

func Test_HashPassword_VerifyPassword(t *testing.T) {
	hash, err := HashPassword("s3cret", defaultArgon2Params)
	if err != nil {
		t.Fatalf("hash err: %v", err)
	}
	if !VerifyPassword("s3cret", hash) {
		t.Fatalf("verify failed")
	}
	if VerifyPassword("wrong", hash) {
		t.Fatalf("verify should fail for wrong password")
	}
	if VerifyPassword("s3cret", "not-a-hash") {
		t.Fatalf("verify should fail for malformed hash")
	}
}

func Test_parseInt64(t *testing.T) {
	if parseInt64("123") != 123 {
		t.Fatalf("parse 123")
	}
	if parseInt64("x") != 0 {
		t.Fatalf("parse invalid should be 0")
	}
}

func Test_parseUint32(t *testing.T) {
	tests := []struct {
		input     string
		expected  uint32
		expectErr bool
	}{
		{"0", 0, false},
		{"1", 1, false},
		{"123", 123, false},
		{"4294967295", 4294967295, false}, // max uint32
		{"", 0, true},
		{"invalid", 0, true},
		{"-1", 0, true},
	}

	for _, tt := range tests {
		result, err := parseUint32(tt.input)
		if tt.expectErr {
			if err == nil {
				t.Errorf("parseUint32(%q) expected error, got nil", tt.input)
			}
		} else {
			if err != nil {
				t.Errorf("parseUint32(%q) unexpected error: %v", tt.input, err)
			}
			if result != tt.expected {
				t.Errorf("parseUint32(%q) = %d, want %d", tt.input, result, tt.expected)
			}
		}
	}
}

func adminTestConfig() config.Config {
	return config.Config{
		AppEnv:               "dev",
		AdminUsername:        "admin",
		AdminPassword:        "pw",
		AdminSessionSecret:   "0123456789abcdef0123456789abcdef",
		AdminSessionSameSite: "Strict",
	}
}

func Test_SessionManager_RoundTrip(t *testing.T) {
	sm := NewSessionManager(adminTestConfig())
	value, err := sm.CreateSession("admin")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	sd, err := sm.ValidateSession(value)
	if err != nil {
		t.Fatalf("validate session: %v", err)
	}
	if sd.Username != "admin" {
		t.Fatalf("username = %q", sd.Username)
	}
	if !sd.ExpiresAt.After(time.Now()) {
		t.Fatalf("session already expired")
	}
}

func Test_SessionManager_RejectsTamperedValue(t *testing.T) {
	sm := NewSessionManager(adminTestConfig())
	value, err := sm.CreateSession("admin")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := sm.ValidateSession("x" + value); err == nil {
		t.Fatalf("tampered session should not validate")
	}
	if _, err := sm.ValidateSession(""); err == nil {
		t.Fatalf("empty session should not validate")
	}
}

func Test_AuthRequired_MissingCookie(t *testing.T) {
	sm := NewSessionManager(adminTestConfig())
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	w := httptest.NewRecorder()
	sm.AuthRequired(next).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/api/stats", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func Test_AuthRequired_ValidCookie(t *testing.T) {
	sm := NewSessionManager(adminTestConfig())
	value, err := sm.CreateSession("admin")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	var got *SessionData
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = SessionFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/admin/api/stats", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: value})
	w := httptest.NewRecorder()
	sm.AuthRequired(next).ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got == nil || got.Username != "admin" {
		t.Fatalf("session data not propagated: %+v", got)
	}
}

func Test_sameSite(t *testing.T) {
	for cfgVal, want := range map[string]http.SameSite{
		"Strict": http.SameSiteStrictMode,
		"lax":    http.SameSiteLaxMode,
		"None":   http.SameSiteNoneMode,
		"":       http.SameSiteStrictMode,
	} {
		cfg := adminTestConfig()
		cfg.AdminSessionSameSite = cfgVal
		if got := NewSessionManager(cfg).sameSite(); got != want {
			t.Errorf("sameSite(%q) = %v, want %v", cfgVal, got, want)
		}
	}
}
