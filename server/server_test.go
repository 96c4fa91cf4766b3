package server

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/nodegraph/component"
	nerrors "github.com/kbukum/nodegraph/errors"
	"github.com/kbukum/nodegraph/logger"
)

func quietLogger() *logger.Logger {
	return logger.NewWithWriter(&logger.Config{Level: "error", Format: "json"}, "test", io.Discard)
}

func TestServer_StartStop(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:0"}, quietLogger())
	s.RegisterDefaultEndpoints("nodegraph", nil)
	sc := NewComponent(s)

	if h := sc.Health(context.Background()); h.Status != component.StatusUnhealthy {
		t.Errorf("expected unhealthy before start, got %s", h.Status)
	}
	if err := sc.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.HasSuffix(s.Addr(), ":0") {
		t.Fatalf("expected the bound port, got %s", s.Addr())
	}
	if h := sc.Health(context.Background()); h.Status != component.StatusHealthy {
		t.Errorf("expected healthy after start, got %s", h.Status)
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Error("expected the middleware stack to run")
	}

	if err := sc.Stop(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := client.Get("http://" + s.Addr() + "/healthz"); err == nil {
		t.Error("expected the server to be closed")
	}
	if h := sc.Health(context.Background()); h.Status != component.StatusUnhealthy {
		t.Errorf("expected unhealthy after stop, got %s", h.Status)
	}
}

func TestServer_BindFailure(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:0"}, quietLogger())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Stop(context.Background())

	taken := New(Config{Addr: s.Addr()}, quietLogger())
	if err := taken.Start(context.Background()); err == nil {
		t.Fatal("expected bind failure on a used port")
	}
}

func TestRoutes(t *testing.T) {
	s := New(Config{}, quietLogger())
	s.RegisterDefaultEndpoints("nodegraph", nil)
	s.Engine().POST("/api/v1/graph/run", func(c *gin.Context) {})
	s.Engine().GET("/api/v1/graph", func(c *gin.Context) {})

	routes := s.Routes()
	if len(routes) != 4 {
		t.Fatalf("expected 4 routes, got %+v", routes)
	}
	if routes[0].Path != "/api/v1/graph" || routes[1].Path != "/api/v1/graph/run" {
		t.Errorf("expected API routes first, sorted by path: %+v", routes)
	}
	if routes[2].Path != "/healthz" || routes[2].Handler != "health" {
		t.Errorf("expected system routes last, got %+v", routes[2])
	}
}

func TestFormatHandlerName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"github.com/kbukum/nodegraph/server.(*API).runGraph-fm", "API.runGraph"},
		{"github.com/kbukum/nodegraph/server/endpoint.Health.func1", "health"},
		{"github.com/kbukum/nodegraph/server.notFound", "notFound"},
	}
	for _, tc := range tests {
		if got := formatHandlerName(tc.in); got != tc.want {
			t.Errorf("formatHandlerName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		category nerrors.Category
		want     int
	}{
		{nerrors.CategoryValidation, http.StatusBadRequest},
		{nerrors.CategoryStructural, http.StatusUnprocessableEntity},
		{nerrors.CategoryCapabilityDenied, http.StatusForbidden},
		{nerrors.CategoryTimeout, http.StatusGatewayTimeout},
		{nerrors.CategoryResourceExhausted, http.StatusServiceUnavailable},
		{nerrors.CategoryComponentTrap, http.StatusInternalServerError},
		{nerrors.CategoryExecutionFailure, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(string(tc.category), func(t *testing.T) {
			if got := StatusFor(tc.category); got != tc.want {
				t.Errorf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestConfig(t *testing.T) {
	var c Config
	c.ApplyDefaults()
	if c.Addr != DefaultAddr || c.MaxBodyBytes == 0 || len(c.CORS.AllowedOrigins) == 0 {
		t.Errorf("unexpected defaults %+v", c)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	bad := []Config{
		{Addr: "8089"},
		{Addr: DefaultAddr, ReadTimeout: -time.Second},
		{Addr: DefaultAddr, MaxBodyBytes: -1},
	}
	for _, b := range bad {
		if err := b.Validate(); err == nil {
			t.Errorf("expected %+v to be rejected", b)
		}
	}
}
