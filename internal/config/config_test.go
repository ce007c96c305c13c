package config

import (
	"testing"
	"time"
)

// deadLetterEnvVars lists all dead-letter export env vars that must be
// cleared between tests.
var deadLetterEnvVars = []string{
	"DWH_DEADLETTER_S3_BUCKET", "DWH_DEADLETTER_S3_ENDPOINT",
	"DWH_DEADLETTER_S3_REGION", "DWH_DEADLETTER_S3_PREFIX",
}

func clearAllEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"DWH_DATABASE_URL", "DWH_NATS_URL", "DWH_DATE_DIM_FROM", "DWH_DATE_DIM_TO"} {
		t.Setenv(key, "")
	}
	for _, key := range deadLetterEnvVars {
		t.Setenv(key, "")
	}
}

func TestLoad(t *testing.T) {
	for _, tc := range []struct {
		name        string
		env         map[string]string
		wantErr     bool
		wantNATSURL string
		wantFrom    string
		wantTo      string
		wantRegion  string
		wantPrefix  string
	}{
		{
			name:    "MissingDatabaseURL",
			env:     map[string]string{},
			wantErr: true,
		},
		{
			name:       "Defaults",
			env:        map[string]string{"DWH_DATABASE_URL": "postgres://localhost/warehouse"},
			wantFrom:   "2024-01-01",
			wantTo:     "2026-12-31",
			wantRegion: "us-east-1",
			wantPrefix: "deadletters",
		},
		{
			name: "CustomValues",
			env: map[string]string{
				"DWH_DATABASE_URL":         "postgres://db:5432/warehouse",
				"DWH_NATS_URL":             "nats://localhost:4222",
				"DWH_DATE_DIM_FROM":        "2023-06-01",
				"DWH_DATE_DIM_TO":          "2027-06-01",
				"DWH_DEADLETTER_S3_REGION": "eu-west-1",
				"DWH_DEADLETTER_S3_PREFIX": "failed",
			},
			wantNATSURL: "nats://localhost:4222",
			wantFrom:    "2023-06-01",
			wantTo:      "2027-06-01",
			wantRegion:  "eu-west-1",
			wantPrefix:  "failed",
		},
		{
			name: "MalformedDate",
			env: map[string]string{
				"DWH_DATABASE_URL":  "postgres://localhost/warehouse",
				"DWH_DATE_DIM_FROM": "January 1st",
			},
			wantErr: true,
		},
		{
			name: "DateRangeInverted",
			env: map[string]string{
				"DWH_DATABASE_URL":  "postgres://localhost/warehouse",
				"DWH_DATE_DIM_FROM": "2026-01-01",
				"DWH_DATE_DIM_TO":   "2024-01-01",
			},
			wantErr: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearAllEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.DatabaseURL != tc.env["DWH_DATABASE_URL"] {
				t.Errorf("DatabaseURL = %q, want %q", cfg.DatabaseURL, tc.env["DWH_DATABASE_URL"])
			}
			if cfg.NATSURL != tc.wantNATSURL {
				t.Errorf("NATSURL = %q, want %q", cfg.NATSURL, tc.wantNATSURL)
			}
			if got := cfg.DateDimFrom.Format("2006-01-02"); got != tc.wantFrom {
				t.Errorf("DateDimFrom = %q, want %q", got, tc.wantFrom)
			}
			if got := cfg.DateDimTo.Format("2006-01-02"); got != tc.wantTo {
				t.Errorf("DateDimTo = %q, want %q", got, tc.wantTo)
			}
			if cfg.DeadLetterS3Region != tc.wantRegion {
				t.Errorf("DeadLetterS3Region = %q, want %q", cfg.DeadLetterS3Region, tc.wantRegion)
			}
			if cfg.DeadLetterS3Prefix != tc.wantPrefix {
				t.Errorf("DeadLetterS3Prefix = %q, want %q", cfg.DeadLetterS3Prefix, tc.wantPrefix)
			}
		})
	}
}

func TestEnvDate(t *testing.T) {
	t.Setenv("DWH_TEST_DATE", "")
	got, err := envDate("DWH_TEST_DATE", "2024-03-15")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("envDate fallback = %v, want %v", got, want)
	}
}

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("DWH_TEST_VAR", "")
	if got := envOrDefault("DWH_TEST_VAR", "fallback"); got != "fallback" {
		t.Errorf("envOrDefault with empty var = %q, want %q", got, "fallback")
	}
	t.Setenv("DWH_TEST_VAR", "set")
	if got := envOrDefault("DWH_TEST_VAR", "fallback"); got != "set" {
		t.Errorf("envOrDefault with set var = %q, want %q", got, "set")
	}
}
