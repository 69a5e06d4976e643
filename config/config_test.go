package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultValues(t *testing.T) {
	d := Default()
	if d.MaxConcurrentDownloads != 5 || d.RetryAttempts != 3 || d.TimeoutSeconds != 300 {
		t.Fatalf("unexpected defaults: %+v", d)
	}
}

func TestLoadMissingPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxConcurrentDownloads != 5 {
		t.Errorf("MaxConcurrentDownloads = %d, want 5", cfg.MaxConcurrentDownloads)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "config.json")
	if err := os.WriteFile(p, []byte(`{"max_concurrent_downloads": 10, "s3_region": "us-west-2"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxConcurrentDownloads != 10 {
		t.Errorf("MaxConcurrentDownloads = %d, want 10", cfg.MaxConcurrentDownloads)
	}
	if cfg.RetryAttempts != 3 {
		t.Errorf("RetryAttempts = %d, want default 3", cfg.RetryAttempts)
	}
	if cfg.S3Region != "us-west-2" {
		t.Errorf("S3Region = %q", cfg.S3Region)
	}
}

func TestOverlayEnvFillsTokens(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		"GITHUB_TOKEN":          "ghtok",
		"AZURE_DEVOPS_TOKEN":    "aztok",
		"AWS_ACCESS_KEY_ID":     "akid",
		"AWS_SECRET_ACCESS_KEY": "asecret",
		"AWS_ENDPOINT_URL":      "https://minio.local",
	}
	cfg.overlayEnv(func(k string) string { return env[k] })
	if cfg.GithubToken != "ghtok" || cfg.AzureDevopsToken != "aztok" {
		t.Errorf("tokens not overlaid: %+v", cfg)
	}
	if cfg.AWSAccessKeyID != "akid" || cfg.AWSSecretAccessKey != "asecret" {
		t.Errorf("AWS creds not overlaid: %+v", cfg)
	}
	if cfg.S3Endpoint != "https://minio.local" {
		t.Errorf("S3Endpoint not filled from AWS_ENDPOINT_URL, got %q", cfg.S3Endpoint)
	}
}

func TestOverlayEnvDoesNotClobberExplicitS3Endpoint(t *testing.T) {
	cfg := Default()
	cfg.S3Endpoint = "https://explicit.example"
	env := map[string]string{"AWS_ENDPOINT_URL": "https://minio.local"}
	cfg.overlayEnv(func(k string) string { return env[k] })
	if cfg.S3Endpoint != "https://explicit.example" {
		t.Errorf("S3Endpoint clobbered: %q", cfg.S3Endpoint)
	}
}

func TestValidateRejectsZeroConcurrency(t *testing.T) {
	cfg := Default()
	cfg.MaxConcurrentDownloads = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for zero max_concurrent_downloads")
	}
}

func TestRedactedHidesTokens(t *testing.T) {
	cfg := Default()
	cfg.GithubToken = "supersecret"
	cfg.AWSSecretAccessKey = "alsosecret"
	red := cfg.Redacted()
	if red.GithubToken == "supersecret" || red.AWSSecretAccessKey == "alsosecret" {
		t.Fatalf("Redacted leaked a credential: %+v", red)
	}
}

func TestStringNeverContainsRawToken(t *testing.T) {
	cfg := Default()
	cfg.GithubToken = "ghp_verysecretvalue"
	s := cfg.String()
	if strings.Contains(s, "ghp_verysecretvalue") {
		t.Fatalf("String() leaked the raw token: %s", s)
	}
}

func TestWriteDefaultProducesLoadableDocument(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "config.json")
	if err := WriteDefault(p); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load after WriteDefault: %v", err)
	}
	if cfg.MaxConcurrentDownloads != 5 {
		t.Errorf("round-tripped MaxConcurrentDownloads = %d", cfg.MaxConcurrentDownloads)
	}
}
