package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	DatabaseURL string // DWH_DATABASE_URL (required)
	NATSURL     string // DWH_NATS_URL (optional, empty = no events)

	// Date dimension bounds used when topping up dim_date.
	DateDimFrom time.Time // DWH_DATE_DIM_FROM (default 2024-01-01)
	DateDimTo   time.Time // DWH_DATE_DIM_TO (default 2026-12-31)

	// Dead letter export settings
	DeadLetterS3Bucket   string // DWH_DEADLETTER_S3_BUCKET (enables S3 export when set)
	DeadLetterS3Endpoint string // DWH_DEADLETTER_S3_ENDPOINT (custom endpoint for MinIO)
	DeadLetterS3Region   string // DWH_DEADLETTER_S3_REGION (default "us-east-1")
	DeadLetterS3Prefix   string // DWH_DEADLETTER_S3_PREFIX (default "deadletters")
}

func Load() (*Config, error) {
	c := &Config{
		DatabaseURL:          os.Getenv("DWH_DATABASE_URL"),
		NATSURL:              os.Getenv("DWH_NATS_URL"),
		DeadLetterS3Bucket:   os.Getenv("DWH_DEADLETTER_S3_BUCKET"),
		DeadLetterS3Endpoint: os.Getenv("DWH_DEADLETTER_S3_ENDPOINT"),
		DeadLetterS3Region:   envOrDefault("DWH_DEADLETTER_S3_REGION", "us-east-1"),
		DeadLetterS3Prefix:   envOrDefault("DWH_DEADLETTER_S3_PREFIX", "deadletters"),
	}
	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("DWH_DATABASE_URL is required")
	}

	var err error
	c.DateDimFrom, err = envDate("DWH_DATE_DIM_FROM", "2024-01-01")
	if err != nil {
		return nil, err
	}
	c.DateDimTo, err = envDate("DWH_DATE_DIM_TO", "2026-12-31")
	if err != nil {
		return nil, err
	}
	if c.DateDimTo.Before(c.DateDimFrom) {
		return nil, fmt.Errorf("DWH_DATE_DIM_TO precedes DWH_DATE_DIM_FROM")
	}

	return c, nil
}

func envDate(key, fallback string) (time.Time, error) {
	v := envOrDefault(key, fallback)
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", key, err)
	}
	return t, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
