package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestErrorHandlerIncludesDetails(t *testing.T) {
	e := newEcho()
	e.GET("/boom", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "query must not be empty").
			SetInternal(errors.New("validation: empty query string"))
	})
	e.GET("/plain", func(c echo.Context) error {
		return errors.New("backend unavailable")
	})

	cases := []struct {
		path        string
		code        int
		wantError   string
		wantDetails string
	}{
		{"/boom", http.StatusBadRequest, "query must not be empty", "validation: empty query string"},
		{"/plain", http.StatusInternalServerError, "backend unavailable", http.StatusText(http.StatusInternalServerError)},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		if rec.Code != tc.code {
			t.Fatalf("%s: expected %d, got %d", tc.path, tc.code, rec.Code)
		}
		var body struct {
			Error   string `json:"error"`
			Details string `json:"details"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: decode body: %v", tc.path, err)
		}
		if body.Error != tc.wantError {
			t.Fatalf("%s: error %q, want %q", tc.path, body.Error, tc.wantError)
		}
		if body.Details != tc.wantDetails {
			t.Fatalf("%s: details %q, want %q", tc.path, body.Details, tc.wantDetails)
		}
	}
}
