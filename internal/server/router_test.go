package server

import (
	"bytes"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

func TestRouterSetsRequestID(t *testing.T) {
	app := newTestApp(t, nil)
	app.Get("/ping", func(c fiber.Ctx) error {
		return c.SendString(RequestID(c))
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/ping", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	reqID := resp.Header.Get("X-Request-ID")
	if reqID == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != reqID {
		t.Fatalf("expected handler to observe request id %s, got %s", reqID, string(body))
	}
}

func TestRouterReturns404ForUnknownEndpoint(t *testing.T) {
	app := newTestApp(t, nil)

	resp, err := app.Test(httptest.NewRequest("GET", "/nope", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 status, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`"Endpoint not found"`)) {
		t.Fatalf("expected Endpoint not found error, got %s", string(body))
	}
}

func TestRouterRecoversFromPanic(t *testing.T) {
	logBuf := &bytes.Buffer{}
	app := newTestApp(t, logBuf)
	app.Get("/boom", func(c fiber.Ctx) error {
		panic("boom")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/boom", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 status, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`"Internal server error"`)) {
		t.Fatalf("expected Internal server error body, got %s", string(body))
	}
	if !bytes.Contains(logBuf.Bytes(), []byte("unhandled_error")) {
		t.Fatalf("expected unhandled_error log, got %s", logBuf.String())
	}
}

func TestRouterCORSAllowsConfiguredOrigin(t *testing.T) {
	app := newTestApp(t, nil)
	app.Get("/ping", func(c fiber.Ctx) error { return c.SendString("pong") })

	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set("Origin", "capacitor://localhost")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "capacitor://localhost" {
		t.Fatalf("expected allowed origin echo, got %q", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Fatalf("expected credentials allowed, got %q", got)
	}

	req = httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set("Origin", "https://evil.example")
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow origin for foreign site: %q", got)
	}
}

func TestRouterSetsSecurityHeaders(t *testing.T) {
	app := newTestApp(t, nil)
	app.Get("/ping", func(c fiber.Ctx) error { return c.SendString("pong") })

	resp, err := app.Test(httptest.NewRequest("GET", "/ping", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected nosniff header, got %q", got)
	}
	if got := resp.Header.Get("Cross-Origin-Resource-Policy"); got != "cross-origin" {
		t.Fatalf("expected cross-origin resource policy, got %q", got)
	}
}

func TestNewAppRequiresLogger(t *testing.T) {
	if _, err := NewApp(AppOptions{}); err == nil {
		t.Fatalf("expected error when logger is missing")
	}
}

func newTestApp(t *testing.T, out io.Writer) *fiber.App {
	t.Helper()

	logger := logrus.New()
	if out == nil {
		out = io.Discard
	}
	logger.SetOutput(out)

	app, err := NewApp(AppOptions{
		Logger:         logger,
		AllowedOrigins: []string{"http://localhost:5173", "capacitor://localhost"},
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	return app
}
