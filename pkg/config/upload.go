package config

import "fmt"

// DefaultS3Prefix is the key prefix used when none is configured.
const DefaultS3Prefix = "reports"

// UploadConfig contains remote storage settings.
type UploadConfig struct {
	S3 *S3UploadConfig `yaml:"s3,omitempty" mapstructure:"s3"`
}

// S3UploadConfig contains S3-compatible storage settings used both to
// publish report directories and to read worker files.
type S3UploadConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	StorageClass    string `yaml:"storage_class,omitempty" mapstructure:"storage_class"`
	ACL             string `yaml:"acl,omitempty" mapstructure:"acl"`
	Concurrency     int    `yaml:"concurrency,omitempty" mapstructure:"concurrency"`
}

// S3Enabled reports whether S3 storage is configured and enabled.
func (c *UploadConfig) S3Enabled() bool {
	return c.S3 != nil && c.S3.Enabled
}

func (c *UploadConfig) applyDefaults() {
	if c.S3 == nil {
		return
	}

	if c.S3.Prefix == "" {
		c.S3.Prefix = DefaultS3Prefix
	}

	if c.S3.Concurrency <= 0 {
		c.S3.Concurrency = 8
	}
}

// Validate checks the upload configuration.
func (c *UploadConfig) Validate() error {
	if !c.S3Enabled() {
		return nil
	}

	if c.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when s3 is enabled")
	}

	if (c.S3.AccessKeyID == "") != (c.S3.SecretAccessKey == "") {
		return fmt.Errorf("s3.access_key_id and s3.secret_access_key must be set together")
	}

	return nil
}
