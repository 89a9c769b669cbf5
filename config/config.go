// Package config loads the process's tunable parameters from a YAML
// file: worker pool sizing, timeouts, cacheable content types, and the
// store locations. It also parses the legacy XML fragment used to
// locate store roots.
package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the top-level tunable parameters for a tilecached
// process.
type Config struct {
	// Dir is the write root passed to filestore.FileStore.SetWriteLocation.
	Dir string `yaml:"dir"`

	// StorageMode selects how saved files are encoded under the write
	// root: "uncompressed" (default) or "zstd".
	StorageMode string `yaml:"storage_mode"`

	// IndexCapacity bounds the address index's in-memory cache, in
	// bytes.
	IndexCapacity int64 `yaml:"index_capacity"`

	// RetrievalPoolSize is the number of concurrent retrieval workers.
	RetrievalPoolSize int `yaml:"retrieval_pool_size"`

	// RetrievalQueueSize bounds the pending-task queue.
	RetrievalQueueSize int `yaml:"retrieval_queue_size"`

	// StaleRequestLimit is how long a task may wait in queue before it
	// is cancelled at dequeue instead of executed.
	StaleRequestLimit time.Duration `yaml:"stale_request_limit"`

	// ConnectTimeout and ReadTimeout are the Retriever's independent
	// timeouts.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`

	// CacheableContentTypes lists the MIME types eligible for the
	// suffix probe of DataFileStore.RequestFile step 5.
	CacheableContentTypes []string `yaml:"cacheable_content_types"`

	// S3, if present, configures the client used for s3:// addresses.
	S3 *S3Config `yaml:"s3,omitempty"`

	// AbsentMaxEntries/AbsentMaxTries/AbsentMinCheckInterval/
	// AbsentTryAgainInterval parameterize the absent-resource list.
	AbsentMaxEntries       int           `yaml:"absent_max_entries"`
	AbsentMaxTries         int           `yaml:"absent_max_tries"`
	AbsentMinCheckInterval time.Duration `yaml:"absent_min_check_interval"`
	AbsentTryAgainInterval time.Duration `yaml:"absent_try_again_interval"`

	// MetricsAddress, if non-empty, is the address to serve
	// "/metrics" on.
	MetricsAddress string `yaml:"metrics_address"`

	AccessLogLevel string `yaml:"access_log_level"`

	AccessLogger *log.Logger `yaml:"-"`
	ErrorLogger  *log.Logger `yaml:"-"`
}

// defaults returns the built-in values, so a config file only needs to
// mention the knobs it wants to change.
func defaults() Config {
	return Config{
		StorageMode:            "uncompressed",
		IndexCapacity:          64 * 1024 * 1024,
		RetrievalPoolSize:      5,
		RetrievalQueueSize:     256,
		StaleRequestLimit:      30 * time.Second,
		ConnectTimeout:         8 * time.Second,
		ReadTimeout:            5 * time.Second,
		CacheableContentTypes:  []string{"image/png", "image/jpeg", "image/gif", "text/xml"},
		AbsentMaxEntries:       10000,
		AbsentMaxTries:         3,
		AbsentMinCheckInterval: time.Second,
		AbsentTryAgainInterval: 5 * time.Minute,
		AccessLogLevel:         "all",
	}
}

// Load reads and validates a Config from the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	c := defaults()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: failed to parse %q: %w", path, err)
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	if err := c.setLoggers(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	if c.Dir == "" {
		return fmt.Errorf("config: 'dir' is required")
	}
	if c.RetrievalPoolSize <= 0 {
		return fmt.Errorf("config: 'retrieval_pool_size' must be positive")
	}
	if c.RetrievalQueueSize <= 0 {
		return fmt.Errorf("config: 'retrieval_queue_size' must be positive")
	}
	switch strings.ToLower(c.StorageMode) {
	case "", "uncompressed", "zstd":
	default:
		return fmt.Errorf("config: 'storage_mode' must be 'uncompressed' or 'zstd', got %q", c.StorageMode)
	}
	switch strings.ToLower(c.AccessLogLevel) {
	case "all", "none":
	default:
		return fmt.Errorf("config: 'access_log_level' must be 'all' or 'none', got %q", c.AccessLogLevel)
	}
	if c.S3 != nil {
		if err := c.S3.validate(); err != nil {
			return err
		}
	}
	return nil
}
