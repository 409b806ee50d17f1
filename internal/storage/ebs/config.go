package ebs

import (
	"time"
)

// Config represents EC2 client configuration for the EBS backend
type Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`

	// SDK-level retries apply to every call, including attach and create,
	// which are only retried by the SDK for throttling and transport faults.
	MaxRetries     int           `yaml:"max_retries"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// NewDefaultConfig returns a configuration with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		MaxRetries:     3,
		RequestTimeout: 30 * time.Second,
	}
}

// HasStaticCredentials reports whether explicit keys were configured.
func (c *Config) HasStaticCredentials() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != ""
}
