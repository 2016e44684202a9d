// Package s3 implements the mirror provider for AWS S3 and S3-compatible
// object stores.
package s3

// Config configures an S3 mirror.
//
// Credentials follow the AWS SDK v2 default chain unless explicit keys are
// provided. For S3-compatible stores (MinIO, Wasabi) set Endpoint and
// usually ForcePathStyle.
type Config struct {
	// Bucket is the bucket holding the archive mirror (required).
	Bucket string

	// Region is the AWS region. When empty and no Endpoint is set, the
	// SDK resolution applies and falls back to DefaultRegion.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible stores.
	Endpoint string

	// Profile selects a shared-config profile. Empty uses the default
	// chain.
	Profile string

	// AccessKeyID and SecretAccessKey are explicit static credentials;
	// both must be set together and take precedence over the chain.
	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle forces path-style addressing, required by most
	// S3-compatible stores.
	ForcePathStyle bool

	// MaxKeys is the default listing page size. Zero means
	// DefaultMaxKeys; values above MaxAllowedKeys are clamped.
	MaxKeys int
}

// DefaultMaxKeys is the default listing page size.
const DefaultMaxKeys = 1000

// MaxAllowedKeys is the largest page size S3 accepts.
const MaxAllowedKeys = 1000

// DefaultRegion is the fallback region for AWS S3 when nothing resolves.
const DefaultRegion = "us-east-1"

// ConfigError reports an invalid mirror configuration field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "s3 mirror config: " + e.Field + ": " + e.Message
}

// Validate checks required fields once at construction.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "static credentials require both key id and secret",
		}
	}
	return nil
}
