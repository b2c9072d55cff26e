package auth

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/zeusagent/zeus/pkg/models"
)

func TestHTTPMiddlewareAllowsWhenDisabled(t *testing.T) {
	service := NewService(Config{})
	handlerCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { handlerCalled = true })

	mw := HTTPMiddleware(service, slog.New(slog.NewTextHandler(io.Discard, nil)), next)
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !handlerCalled {
		t.Fatal("expected handler to be called")
	}
}

func TestHTTPMiddlewareRejectsMissingCredentials(t *testing.T) {
	service := NewService(Config{JWTSecret: "secret"})
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	mw := HTTPMiddleware(service, slog.New(slog.NewTextHandler(io.Discard, nil)), next)
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestHTTPMiddlewareAcceptsValidToken(t *testing.T) {
	service := NewService(Config{JWTSecret: "secret", TokenExpiry: time.Hour})
	token, err := service.GenerateJWT(&models.User{ID: "user-1"})
	if err != nil {
		t.Fatalf("GenerateJWT() error = %v", err)
	}

	var gotUser *models.User
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = UserFromContext(r.Context())
	})
	mw := HTTPMiddleware(service, slog.New(slog.NewTextHandler(io.Discard, nil)), next)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotUser == nil || gotUser.ID != "user-1" {
		t.Fatalf("gotUser = %+v, want ID user-1", gotUser)
	}
}

func TestHTTPMiddlewareAcceptsAPIKey(t *testing.T) {
	service := NewService(Config{APIKeys: []APIKeyConfig{{Key: "k1", UserID: "user-1"}}})
	var gotUser *models.User
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = UserFromContext(r.Context())
	})
	mw := HTTPMiddleware(service, slog.New(slog.NewTextHandler(io.Discard, nil)), next)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("X-API-Key", "k1")
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotUser == nil || gotUser.ID != "user-1" {
		t.Fatalf("gotUser = %+v, want ID user-1", gotUser)
	}
}

func TestHTTPMiddlewareRejectsInvalidAPIKey(t *testing.T) {
	service := NewService(Config{APIKeys: []APIKeyConfig{{Key: "k1", UserID: "user-1"}}})
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	mw := HTTPMiddleware(service, slog.New(slog.NewTextHandler(io.Discard, nil)), next)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
