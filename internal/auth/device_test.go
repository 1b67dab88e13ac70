package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/waabox/gamedeck/internal/auth"
)

func TestDeviceFlow_RequestCode_ReturnsUserCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/login/device/code" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := r.ParseForm(); err != nil || r.Form.Get("client_id") != "client" {
			t.Errorf("expected client_id 'client', got %q", r.Form.Get("client_id"))
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"device_code":      "dev_abc",
			"user_code":        "ABCD-1234",
			"verification_uri": "https://github.com/login/device",
			"expires_in":       900,
			"interval":         5,
		})
	}))
	defer server.Close()

	code, err := auth.NewDeviceFlow("client", server.URL).RequestCode(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code.UserCode != "ABCD-1234" {
		t.Errorf("user code: want 'ABCD-1234', got '%s'", code.UserCode)
	}
	if code.Interval != 5 {
		t.Errorf("interval: want 5, got %d", code.Interval)
	}
}

func TestDeviceFlow_PollToken_WaitsForApproval(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			json.NewEncoder(w).Encode(map[string]string{"error": "authorization_pending"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": "gho_token"})
	}))
	defer server.Close()

	token, err := auth.NewDeviceFlow("client", server.URL).PollToken(context.Background(), "dev_abc", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "gho_token" {
		t.Errorf("token: want 'gho_token', got '%s'", token)
	}
	if calls != 2 {
		t.Errorf("expected 2 polls, got %d", calls)
	}
}

func TestDeviceFlow_PollToken_Denied(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"error": "access_denied"})
	}))
	defer server.Close()

	_, err := auth.NewDeviceFlow("client", server.URL).PollToken(context.Background(), "dev_abc", 0)
	if !errors.Is(err, auth.ErrDenied) {
		t.Errorf("expected ErrDenied, got %v", err)
	}
}

func TestDeviceFlow_PollToken_Expired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"error": "expired_token"})
	}))
	defer server.Close()

	_, err := auth.NewDeviceFlow("client", server.URL).PollToken(context.Background(), "dev_abc", 0)
	if !errors.Is(err, auth.ErrExpired) {
		t.Errorf("expected ErrExpired, got %v", err)
	}
}

func TestDeviceFlow_PollToken_StopsOnContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"error": "authorization_pending"})
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := auth.NewDeviceFlow("client", server.URL).PollToken(ctx, "dev_abc", 0)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDeviceFlow_Login_PrintsInstructions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login/device/code" {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"device_code":      "dev_abc",
				"user_code":        "WXYZ-9876",
				"verification_uri": "https://github.com/login/device",
				"expires_in":       60,
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": "gho_login"})
	}))
	defer server.Close()

	var prompt bytes.Buffer
	token, err := auth.NewDeviceFlow("client", server.URL).Login(context.Background(), &prompt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "gho_login" {
		t.Errorf("token: want 'gho_login', got '%s'", token)
	}
	if !strings.Contains(prompt.String(), "WXYZ-9876") {
		t.Errorf("expected user code in prompt, got %q", prompt.String())
	}
}

func TestDeviceFlow_RequestCode_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	if _, err := auth.NewDeviceFlow("client", server.URL).RequestCode(context.Background()); err == nil {
		t.Error("expected error on HTTP 500")
	}
}
