// Package health reports component liveness at /healthz.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status is the health state of a component.
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Checker tracks the health of registered components.
type Checker struct {
	mu         sync.RWMutex
	components map[string]Status
}

// NewChecker creates a Checker with no registered components.
func NewChecker() *Checker {
	return &Checker{components: make(map[string]Status)}
}

// Register adds a component with an initial status of down.
func (c *Checker) Register(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components[name] = StatusDown
}

// SetStatus updates the status of a named component.
func (c *Checker) SetStatus(name string, status Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components[name] = status
}

// Status returns the status of name and whether it is registered.
func (c *Checker) Status(name string) (Status, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.components[name]
	return s, ok
}

// Overall aggregates every component: down if any is down, degraded if any
// is degraded, up otherwise.
func (c *Checker) Overall() (Status, map[string]Status) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	overall := StatusUp
	comps := make(map[string]Status, len(c.components))
	for name, status := range c.components {
		comps[name] = status
		switch status {
		case StatusDown:
			overall = StatusDown
		case StatusDegraded:
			if overall == StatusUp {
				overall = StatusDegraded
			}
		}
	}
	return overall, comps
}

type response struct {
	Status     Status            `json:"status"`
	Components map[string]Status `json:"components"`
}

// ServeHTTP responds 200 unless a component is down, then 503.
func (c *Checker) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	overall, comps := c.Overall()
	w.Header().Set("Content-Type", "application/json")
	if overall == StatusDown {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(response{Status: overall, Components: comps})
}

// CheckFunc checks one component.
type CheckFunc func(ctx context.Context) error

// DefaultInterval is the check interval Watch falls back to when given a
// non-positive one.
const DefaultInterval = 30 * time.Second

// Watch runs each check every interval until ctx is done, marking its
// component up on success and down on error. Checks run once immediately.
func (c *Checker) Watch(ctx context.Context, interval time.Duration, checks map[string]CheckFunc, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	names := make([]string, 0, len(checks))
	for name := range checks {
		c.Register(name)
		names = append(names, name)
	}
	sort.Strings(names)

	run := func() {
		for _, name := range names {
			pctx, cancel := context.WithTimeout(ctx, interval)
			err := checks[name](pctx)
			cancel()
			if err != nil {
				if prev, _ := c.Status(name); prev != StatusDown {
					logger.Warn("health check failed", "component", name, "error", err)
				}
				c.SetStatus(name, StatusDown)
				continue
			}
			c.SetStatus(name, StatusUp)
		}
	}

	run()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
