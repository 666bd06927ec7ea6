package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	tests := []struct {
		name  string
		check func(*Config) bool
	}{
		{"default mode is all", func(c *Config) bool { return c.Mode == "all" }},
		{"default host is 0.0.0.0", func(c *Config) bool { return c.Host == "0.0.0.0" }},
		{"default port is 8080", func(c *Config) bool { return c.Port == 8080 }},
		{"default log level is info", func(c *Config) bool { return c.LogLevel == "info" }},
		{"default log format is json", func(c *Config) bool { return c.LogFormat == "json" }},
		{"listen addr format", func(c *Config) bool { return c.ListenAddr() == "0.0.0.0:8080" }},
		{"heartbeat interval defaults to 15s", func(c *Config) bool { return c.HeartbeatInterval.String() == "15s" }},
		{"unhealthy-after defaults to 35s", func(c *Config) bool { return c.UnhealthyAfter.String() == "35s" }},
		{"offline-after defaults to 1m10s", func(c *Config) bool { return c.OfflineAfter.String() == "1m10s" }},
		{"preempt threshold defaults to 500", func(c *Config) bool { return c.PreemptPriorityThreshold == 500 }},
		{"crash loop threshold defaults to 3", func(c *Config) bool { return c.CrashLoopFailureThreshold == 3 }},
		{"tls disabled by default", func(c *Config) bool { return !c.TLSEnabled() }},
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(cfg) {
				t.Errorf("unexpected config value for %q", tt.name)
			}
		})
	}
}
