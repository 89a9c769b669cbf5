package config

import "fmt"

// S3Config configures the object-store client used to resolve s3://
// addresses. When the block is absent from the config file, s3://
// addresses fail retrieval with an error.
type S3Config struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	DisableSSL      bool   `yaml:"disable_ssl"`
	Region          string `yaml:"region"`

	// IAMRoleEndpoint is used when no static key pair is set; empty
	// means the SDK's default IAM endpoint.
	IAMRoleEndpoint string `yaml:"iam_role_endpoint"`
}

func (s *S3Config) validate() error {
	if s.Endpoint == "" {
		return fmt.Errorf("config: 's3.endpoint' is required when the s3 block is present")
	}
	if (s.AccessKeyID == "") != (s.SecretAccessKey == "") {
		return fmt.Errorf("config: 's3.access_key_id' and 's3.secret_access_key' must be set together")
	}
	return nil
}
