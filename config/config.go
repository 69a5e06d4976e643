// Package config implements the configuration document spec.md §6 defines:
// a JSON file of tunables overlaid with environment variables, with
// defaults matching the spec's documented starter values. Field shape and
// the env-overlay pattern follow the teacher's cmd/cctool flag/env handling
// (internal/httputil/responsechecker.go's matching style), generalized from
// flags to a JSON document since this engine's surface is wider than
// cctool's.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Config is the on-disk/overlaid configuration document (spec.md §6).
type Config struct {
	MaxConcurrentDownloads uint32 `json:"max_concurrent_downloads"`
	RetryAttempts          uint32 `json:"retry_attempts"`
	TimeoutSeconds         uint32 `json:"timeout_seconds"`
	S3Region               string `json:"s3_region,omitempty"`
	S3Endpoint             string `json:"s3_endpoint,omitempty"`
	GithubToken            string `json:"github_token,omitempty"`
	AzureDevopsToken       string `json:"azure_devops_token,omitempty"`

	// AWSAccessKeyID, AWSSecretAccessKey and AWSEndpointURL are filled only
	// from environment variables (spec.md §6); there is no JSON field for
	// them since AWS credentials are conventionally kept out of files that
	// might be committed or copied.
	AWSAccessKeyID     string `json:"-"`
	AWSSecretAccessKey string `json:"-"`
	AWSEndpointURL     string `json:"-"`
}

// Default returns the document with spec.md §6's default values.
func Default() Config {
	return Config{
		MaxConcurrentDownloads: 5,
		RetryAttempts:          3,
		TimeoutSeconds:         300,
	}
}

// Load reads a JSON configuration document from path, applying defaults for
// any field the document omits, then overlays environment variables
// (spec.md §6: GITHUB_TOKEN, AZURE_DEVOPS_TOKEN, AWS_ACCESS_KEY_ID,
// AWS_SECRET_ACCESS_KEY, AWS_ENDPOINT_URL). An empty path skips the file
// read and returns defaults overlaid with the environment alone.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("config.Load: opening %s: %w", path, err)
		}
		defer f.Close()
		if err := decode(f, &cfg); err != nil {
			return Config{}, fmt.Errorf("config.Load: parsing %s: %w", path, err)
		}
	}
	cfg.overlayEnv(os.Getenv)
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(cfg)
}

func (c *Config) overlayEnv(getenv func(string) string) {
	if v := getenv("GITHUB_TOKEN"); v != "" {
		c.GithubToken = v
	}
	if v := getenv("AZURE_DEVOPS_TOKEN"); v != "" {
		c.AzureDevopsToken = v
	}
	if v := getenv("AWS_ACCESS_KEY_ID"); v != "" {
		c.AWSAccessKeyID = v
	}
	if v := getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		c.AWSSecretAccessKey = v
	}
	if v := getenv("AWS_ENDPOINT_URL"); v != "" {
		c.AWSEndpointURL = v
		if c.S3Endpoint == "" {
			c.S3Endpoint = v
		}
	}
}

// Validate checks the invariants the Mirror Engine relies on before
// starting a run (spec.md §6, §7 ConfigError).
func (c Config) Validate() error {
	if c.MaxConcurrentDownloads == 0 {
		return fmt.Errorf("config: max_concurrent_downloads must be >= 1")
	}
	if c.TimeoutSeconds == 0 {
		return fmt.Errorf("config: timeout_seconds must be >= 1")
	}
	return nil
}

// WriteDefault writes Default() to path as indented JSON, for the `init`
// subcommand (spec.md §6).
func WriteDefault(path string) error {
	cfg := Default()
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config.WriteDefault: marshaling defaults: %w", err)
	}
	b = append(b, '\n')
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("config.WriteDefault: writing %s: %w", path, err)
	}
	return nil
}

// Redacted returns a copy of c with every credential field replaced by a
// fixed placeholder, safe to log (spec.md §7: "credentials must never
// appear in log output").
func (c Config) Redacted() Config {
	r := c
	if r.GithubToken != "" {
		r.GithubToken = "[redacted]"
	}
	if r.AzureDevopsToken != "" {
		r.AzureDevopsToken = "[redacted]"
	}
	if r.AWSAccessKeyID != "" {
		r.AWSAccessKeyID = "[redacted]"
	}
	if r.AWSSecretAccessKey != "" {
		r.AWSSecretAccessKey = "[redacted]"
	}
	return r
}

// String implements fmt.Stringer via the redacted form, so an accidental
// %v/%s in a log line can never leak a credential.
func (c Config) String() string {
	r := c.Redacted()
	b, err := json.Marshal(r)
	if err != nil {
		return "config.Config{<marshal error>}"
	}
	return string(b)
}
