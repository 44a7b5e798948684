package kv

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds configuration for the Provider.
type Config struct {
	// TableName is the name of the RBAC table.
	// Default: "rbac_store"
	TableName string `envconfig:"RBAC_TABLE_NAME"`

	// IndexName is the name of the inverted secondary index whose partition
	// key is the table's sort key and vice versa. Reverse relationship
	// queries run against it.
	// Default: "sk-pk-index"
	IndexName string `envconfig:"RBAC_INDEX_NAME"`

	// Region is the AWS region for the DynamoDB client.
	Region string `envconfig:"AWS_REGION"`

	// Endpoint overrides the DynamoDB endpoint (e.g., DynamoDB Local).
	// Empty means the SDK default resolution.
	Endpoint string `envconfig:"RBAC_DYNAMODB_ENDPOINT"`

	// RequestTimeout bounds each store call. Zero disables the bound.
	// Default: 10s
	RequestTimeout time.Duration `envconfig:"RBAC_REQUEST_TIMEOUT"`
}

// DefaultConfig returns sensible defaults for a single-table deployment.
func DefaultConfig() Config {
	return Config{
		TableName:      "rbac_store",
		IndexName:      "sk-pk-index",
		RequestTimeout: 10 * time.Second,
	}
}

// ConfigFromEnv builds a Config from the environment, falling back to
// defaults for anything unset.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	cfg.validate()
	return cfg, nil
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.TableName == "" {
		c.TableName = "rbac_store"
	}
	if c.IndexName == "" {
		c.IndexName = "sk-pk-index"
	}
	if c.RequestTimeout < 0 {
		c.RequestTimeout = 0
	}
}
