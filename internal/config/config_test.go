package config

import "testing"

func TestServerFromEnv(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("HTTP_RATE_PER_SEC", "2.5")
	t.Setenv("HTTP_RATE_BURST", "5")
	t.Setenv("TRUST_PROXY", "true")

	cfg := ServerFromEnv()
	if cfg.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", cfg.Port)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Errorf("Expected two trimmed origins, got %q", cfg.CORSOrigins)
	}
	if cfg.HTTPRatePerSec != 2.5 || cfg.HTTPRateBurst != 5 {
		t.Errorf("Expected rate 2.5 burst 5, got %v/%d", cfg.HTTPRatePerSec, cfg.HTTPRateBurst)
	}
	if !cfg.TrustProxy {
		t.Error("Expected TRUST_PROXY=true to enable proxy headers")
	}
}

func TestServerDefaults(t *testing.T) {
	cfg := DefaultServer()
	if cfg.TrustProxy {
		t.Error("Proxy headers must not be trusted by default")
	}
	if cfg.HTTPRatePerSec != 20 || cfg.HTTPRateBurst != 40 {
		t.Errorf("Expected 20/40 default HTTP budget, got %v/%d", cfg.HTTPRatePerSec, cfg.HTTPRateBurst)
	}
}
