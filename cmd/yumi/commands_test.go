package main

import (
	"strings"
	"testing"
)

func TestLoadDashboardConfig(t *testing.T) {
	t.Setenv("DASHBOARD_TOKEN", "")
	if _, err := loadDashboardConfig(); err == nil || !strings.Contains(err.Error(), "DASHBOARD_TOKEN") {
		t.Fatalf("missing token err = %v", err)
	}

	t.Setenv("DASHBOARD_TOKEN", "s3cret")
	t.Setenv("DASHBOARD_ADDR", "127.0.0.1:8080")
	cfg, err := loadDashboardConfig()
	if err != nil {
		t.Fatalf("loadDashboardConfig: %v", err)
	}
	if cfg.Token != "s3cret" || cfg.Addr != "127.0.0.1:8080" {
		t.Fatalf("cfg = %+v", cfg)
	}
}
