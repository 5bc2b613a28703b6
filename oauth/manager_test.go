package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/oauth2"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(
		Google("google-id", "google-secret", "https://auth.example.com/oauth/callback"),
		GitHub("gh-id", "gh-secret", "https://auth.example.com/oauth/callback"),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestAuthURLCarriesStateAndClient(t *testing.T) {
	m := testManager(t)

	url, err := m.AuthURL("google", "state-123")
	if err != nil {
		t.Fatalf("auth url: %v", err)
	}
	if !strings.Contains(url, "state=state-123") {
		t.Fatalf("expected state in consent URL: %s", url)
	}
	if !strings.Contains(url, "client_id=google-id") {
		t.Fatalf("expected client id in consent URL: %s", url)
	}
}

func TestAuthURLUnknownProvider(t *testing.T) {
	m := testManager(t)

	if _, err := m.AuthURL("gitlab", "state"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestExchangeUnknownProvider(t *testing.T) {
	m := testManager(t)

	if _, err := m.Exchange(context.Background(), "gitlab", "code"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestNewManagerRejectsDuplicates(t *testing.T) {
	_, err := NewManager(
		Google("id", "secret", "https://cb"),
		Google("id2", "secret2", "https://cb"),
	)
	if err == nil {
		t.Fatal("expected duplicate provider registration to fail")
	}
}

func TestFetchProfileGoogleMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer provider-token" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sub":"g-123","email":"alice@example.com","name":"Alice","picture":"https://img.example.com/a.png"}`))
	}))
	defer srv.Close()

	p := Google("id", "secret", "https://cb")
	p.UserInfoURL = srv.URL
	m, err := NewManager(p)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	profile, err := m.FetchProfile(context.Background(), "google", &oauth2.Token{AccessToken: "provider-token"})
	if err != nil {
		t.Fatalf("fetch profile: %v", err)
	}
	if profile.Provider != "google" || profile.Subject != "g-123" {
		t.Fatalf("unexpected identity: %+v", profile)
	}
	if profile.Email != "alice@example.com" || profile.Name != "Alice" {
		t.Fatalf("unexpected profile fields: %+v", profile)
	}
	if profile.AvatarURL != "https://img.example.com/a.png" {
		t.Fatalf("unexpected avatar: %q", profile.AvatarURL)
	}
}

func TestFetchProfileGitHubMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":9001,"email":"","name":"","login":"octo","avatar_url":"https://img.example.com/o.png"}`))
	}))
	defer srv.Close()

	p := GitHub("id", "secret", "https://cb")
	p.UserInfoURL = srv.URL
	m, err := NewManager(p)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	profile, err := m.FetchProfile(context.Background(), "github", &oauth2.Token{AccessToken: "tok"})
	if err != nil {
		t.Fatalf("fetch profile: %v", err)
	}
	if profile.Subject != "9001" {
		t.Fatalf("expected numeric id as subject, got %q", profile.Subject)
	}
	if profile.Name != "octo" {
		t.Fatalf("expected login fallback for empty name, got %q", profile.Name)
	}
}

func TestFetchProfileRejectsEmptySubject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"email":"no-sub@example.com"}`))
	}))
	defer srv.Close()

	p := Google("id", "secret", "https://cb")
	p.UserInfoURL = srv.URL
	m, err := NewManager(p)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	if _, err := m.FetchProfile(context.Background(), "google", &oauth2.Token{AccessToken: "tok"}); err == nil {
		t.Fatal("expected empty subject to be rejected")
	}
}

func TestFetchProfileNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	p := GitHub("id", "secret", "https://cb")
	p.UserInfoURL = srv.URL
	m, err := NewManager(p)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	if _, err := m.FetchProfile(context.Background(), "github", &oauth2.Token{AccessToken: "tok"}); err == nil {
		t.Fatal("expected non-200 userinfo response to fail")
	}
}
