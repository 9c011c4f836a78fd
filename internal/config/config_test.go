package config

import (
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/bedcast")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %s", cfg.Port)
	}
	if !cfg.IsDev() {
		t.Error("expected development env by default")
	}
	if cfg.ForecastHorizonDays != 7 {
		t.Errorf("expected default horizon 7, got %d", cfg.ForecastHorizonDays)
	}
	if cfg.AssignClaimRetries != 3 {
		t.Errorf("expected default claim retries 3, got %d", cfg.AssignClaimRetries)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must validate: %v", err)
	}
}

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Error("expected error without DATABASE_URL")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			AssignClaimRetries:     3,
			SnapshotHour:           2,
			ForecastHorizonDays:    7,
			ForecastBandBase:       1,
			ForecastBandSlope:      0.5,
			ForecastDOWAdjustments: "0,0,0,0,0,0,0",
		}
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero retries", func(c *Config) { c.AssignClaimRetries = 0 }},
		{"snapshot hour too big", func(c *Config) { c.SnapshotHour = 24 }},
		{"zero horizon", func(c *Config) { c.ForecastHorizonDays = 0 }},
		{"negative slope", func(c *Config) { c.ForecastBandSlope = -0.1 }},
		{"short dow list", func(c *Config) { c.ForecastDOWAdjustments = "0,0,0" }},
		{"non-numeric dow", func(c *Config) { c.ForecastDOWAdjustments = "0,0,0,x,0,0,0" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestDOWAdjustments(t *testing.T) {
	cfg := &Config{ForecastDOWAdjustments: "1, -2.5, 0, 0, 0, 3, 0"}

	got, err := cfg.DOWAdjustments()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := [7]float64{1, -2.5, 0, 0, 0, 3, 0}
	if got != want {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestFacilities(t *testing.T) {
	cfg := &Config{DefaultFacility: "default"}
	if got := cfg.Facilities(); len(got) != 1 || got[0] != "default" {
		t.Errorf("expected fallback to default facility, got %v", got)
	}

	cfg.FacilityList = "FAC-1, FAC-2, ,FAC-3"
	got := cfg.Facilities()
	want := []string{"FAC-1", "FAC-2", "FAC-3"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
			break
		}
	}
}
