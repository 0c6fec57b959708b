package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func serve(t *testing.T, c *Checker) (int, response) {
	t.Helper()
	rec := httptest.NewRecorder()
	c.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var resp response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, resp
}

func TestChecker(t *testing.T) {
	tests := []struct {
		name     string
		statuses map[string]Status
		code     int
		overall  Status
	}{
		{"all up", map[string]Status{"catalog": StatusUp, "cache": StatusUp}, http.StatusOK, StatusUp},
		{"one down", map[string]Status{"catalog": StatusDown, "cache": StatusUp}, http.StatusServiceUnavailable, StatusDown},
		{"degraded", map[string]Status{"catalog": StatusDegraded, "cache": StatusUp}, http.StatusOK, StatusDegraded},
		{"down beats degraded", map[string]Status{"catalog": StatusDegraded, "cache": StatusDown}, http.StatusServiceUnavailable, StatusDown},
		{"nothing registered", nil, http.StatusOK, StatusUp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			for name, s := range tt.statuses {
				c.Register(name)
				c.SetStatus(name, s)
			}
			code, resp := serve(t, c)
			if code != tt.code || resp.Status != tt.overall {
				t.Errorf("got %d %q, want %d %q", code, resp.Status, tt.code, tt.overall)
			}
			if len(resp.Components) != len(tt.statuses) {
				t.Errorf("components = %v", resp.Components)
			}
		})
	}
}

func TestRegisterStartsDown(t *testing.T) {
	c := NewChecker()
	c.Register("catalog")
	if s, ok := c.Status("catalog"); !ok || s != StatusDown {
		t.Errorf("status = %q, %v", s, ok)
	}
	if _, ok := c.Status("missing"); ok {
		t.Error("unregistered component reported")
	}
}

func TestWatch(t *testing.T) {
	c := NewChecker()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Watch(ctx, time.Hour, map[string]CheckFunc{
			"catalog": func(context.Context) error { return nil },
			"storage": func(context.Context) error { return errors.New("unreachable") },
		}, nil)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		s, _ := c.Status("catalog")
		if s == StatusUp {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("catalog never reported up")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if s, _ := c.Status("storage"); s != StatusDown {
		t.Errorf("storage = %q", s)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatchNonPositiveInterval(t *testing.T) {
	for _, interval := range []time.Duration{0, -time.Second} {
		c := NewChecker()
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			c.Watch(ctx, interval, map[string]CheckFunc{
				"catalog": func(ctx context.Context) error {
					if _, ok := ctx.Deadline(); !ok {
						return errors.New("check context has no deadline")
					}
					return nil
				},
			}, nil)
		}()

		deadline := time.Now().Add(5 * time.Second)
		for {
			if s, _ := c.Status("catalog"); s == StatusUp {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("interval %v: catalog never reported up", interval)
			}
			time.Sleep(5 * time.Millisecond)
		}
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("interval %v: Watch did not return after cancel", interval)
		}
	}
}
