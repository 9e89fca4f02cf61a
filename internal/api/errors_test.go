package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/shineum/maildeck/internal/apperr"
)

func TestErrorHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantMessage string
	}{
		{name: "validation", err: apperr.Validationf("missing required fields: to"), wantStatus: 400, wantMessage: "missing required fields: to"},
		{name: "permission", err: apperr.Permissionf("sender not allowed"), wantStatus: 403, wantMessage: "sender not allowed"},
		{name: "not found", err: apperr.NotFoundf("attachment not found"), wantStatus: 404, wantMessage: "attachment not found"},
		{name: "upstream uses client message", err: apperr.Upstreamf(errors.New("dial tcp: refused"), "failed to list folder"), wantStatus: 500, wantMessage: "failed to list folder"},
		{name: "upstream message with reason", err: apperr.Upstreamf(errors.New("throttled"), "failed to send email via ses: %v", "throttled"), wantStatus: 500, wantMessage: "failed to send email via ses: throttled"},
		{name: "fiber error", err: fiber.NewError(fiber.StatusTooManyRequests, "slow down"), wantStatus: 429, wantMessage: "slow down"},
		{name: "unclassified", err: errors.New("boom"), wantStatus: 500, wantMessage: "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler, DisableStartupMessage: true})
			app.Get("/", func(*fiber.Ctx) error { return tt.err })

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status: got %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if body := decode[errorBody](t, resp); body.Error != tt.wantMessage {
				t.Errorf("error: got %q, want %q", body.Error, tt.wantMessage)
			}
		})
	}
}

func TestRecoverFromPanic(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.server.App().Get("/panic", func(*fiber.Ctx) error { panic("handler bug") })

	resp := env.do(t, httptest.NewRequest(http.MethodGet, "/panic", nil), true)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status: got %d, want 500", resp.StatusCode)
	}
}
