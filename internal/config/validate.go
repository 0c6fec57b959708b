package config

import (
	"fmt"
	"strings"
	"time"
)

var knownCatalogs = map[string]bool{"unity": true, "local": true}

var knownExporters = map[string]bool{"": true, "none": true, "stdout": true, "otlp": true}

// Validate performs structural validation on the config.
func (c Config) Validate() error {
	var errs []string

	checkDur := func(path string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Sprintf("%s must be > 0", path))
		}
	}

	// --- Top-level ---
	checkDur("shutdown_timeout", c.ShutdownTimeout)

	// --- Catalog ---
	switch {
	case !knownCatalogs[c.Catalog.Type]:
		errs = append(errs, fmt.Sprintf("unknown catalog.type %q (expected unity, local)", c.Catalog.Type))
	case c.Catalog.Type == "unity" && c.Catalog.Endpoint == "":
		errs = append(errs, "catalog.endpoint is required for the unity catalog")
	case c.Catalog.Type == "local":
		if c.Catalog.Warehouse == "" {
			errs = append(errs, "catalog.warehouse is required for the local catalog")
		}
		checkDur("catalog.credential_ttl", c.Catalog.CredentialTTL)
	}
	if c.Catalog.RequestsPerSecond < 0 {
		errs = append(errs, "catalog.requests_per_second must be >= 0")
	}

	// --- Cache ---
	checkDur("cache.ttl", c.Cache.TTL)
	if c.Cache.MaxEntries <= 0 {
		errs = append(errs, fmt.Sprintf("cache.max_entries must be > 0, got %d", c.Cache.MaxEntries))
	}

	// --- Server ---
	checkDur("server.health_interval", c.Server.HealthInterval)
	if c.Server.APIPrefix != "" && !strings.HasPrefix(c.Server.APIPrefix, "/") {
		errs = append(errs, fmt.Sprintf("server.api_prefix %q must start with /", c.Server.APIPrefix))
	}

	// --- Table maintenance ---
	if c.Table.TargetFileSize <= 0 {
		errs = append(errs, "table.target_file_size must be > 0")
	}
	if c.Table.MinRetention < 0 {
		errs = append(errs, "table.min_retention must be >= 0")
	}

	// --- OTel ---
	if !knownExporters[strings.ToLower(c.OTel.Exporter)] {
		errs = append(errs, fmt.Sprintf("unknown otel.exporter %q (expected none, stdout, otlp)", c.OTel.Exporter))
	}
	if c.OTel.SampleRatio < 0 || c.OTel.SampleRatio > 1 {
		errs = append(errs, "otel.sample_ratio must be within [0, 1]")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation: %s", strings.Join(errs, "; "))
	}
	return nil
}
