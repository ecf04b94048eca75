package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func authedHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func TestAuthMiddlewarePassThroughWithoutSecret(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/documents/x", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	if err := authMiddleware(nil)(authedHandler)(ctx); err != nil {
		t.Fatalf("open API must pass through: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/documents/x", nil)
	ctx := e.NewContext(req, httptest.NewRecorder())

	err := authMiddleware([]byte("secret"))(authedHandler)(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestAuthMiddlewareAcceptsSignedBearerToken(t *testing.T) {
	secret := []byte("secret")
	token, err := SignToken("user-1", secret, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/documents/x", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	if err := authMiddleware(secret)(authedHandler)(ctx); err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
	if got, _ := ctx.Get("user_id").(string); got != "user-1" {
		t.Fatalf("expected subject user-1, got %q", got)
	}
}

func TestAuthMiddlewareRejectsTokenSignedWithWrongSecret(t *testing.T) {
	token, err := SignToken("user-1", []byte("other-secret"), time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/documents/x", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	ctx := e.NewContext(req, httptest.NewRecorder())

	err = authMiddleware([]byte("secret"))(authedHandler)(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}
