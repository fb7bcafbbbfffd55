package config

import "testing"

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	cfg.Pool.BaseURL = "http://pool.local"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults plus a pool URL to validate cleanly, got: %v", err)
	}
}

func TestValidateRequiresPoolBaseURL(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing pool.base_url to fail validation")
	}
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.Pool.BaseURL = "http://pool.local"
	cfg.LogLevel = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an unknown log level to fail validation")
	}
}

func TestValidateRejectsUnknownMonitorMode(t *testing.T) {
	cfg := Defaults()
	cfg.Pool.BaseURL = "http://pool.local"
	cfg.Monitor.Mode = "carrier-pigeon"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an unknown monitor mode to fail validation")
	}
}

func TestValidateRequiresPollIntervalInPollMode(t *testing.T) {
	cfg := Defaults()
	cfg.Pool.BaseURL = "http://pool.local"
	cfg.Monitor.Mode = "poll"
	cfg.Monitor.PollIntervalMs = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected poll mode with a zero interval to fail validation")
	}
}

func TestValidateStreamModeDoesNotRequirePollInterval(t *testing.T) {
	cfg := Defaults()
	cfg.Pool.BaseURL = "http://pool.local"
	cfg.Monitor.Mode = "stream"
	cfg.Monitor.PollIntervalMs = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected stream mode to validate without a poll interval, got: %v", err)
	}
}

func TestValidateRequiresHMACSecretWhenControlBusEnabled(t *testing.T) {
	cfg := Defaults()
	cfg.Pool.BaseURL = "http://pool.local"
	cfg.ControlBus.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected control bus enabled without an hmac_secret to fail validation")
	}
	cfg.ControlBus.HMACSecret = "s3cr3t"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected control bus with an hmac_secret to validate cleanly, got: %v", err)
	}
}

func TestValidatePostgresPoolBounds(t *testing.T) {
	cfg := Defaults()
	cfg.Pool.BaseURL = "http://pool.local"
	cfg.Postgres.PoolMinConns = 10
	cfg.Postgres.PoolMaxConns = 5
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected pool_min_conns > pool_max_conns to fail validation")
	}
}

func TestValidateS3RequiresRegionWhenBucketSet(t *testing.T) {
	cfg := Defaults()
	cfg.Pool.BaseURL = "http://pool.local"
	cfg.S3.Bucket = "archives"
	cfg.S3.Region = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an s3 bucket without a region to fail validation")
	}
}
