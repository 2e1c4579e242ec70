// Package config defines the environment configuration and its loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// appNameRegex validates app name format: 1-32 lowercase alphanumeric with hyphens.
var appNameRegex = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{0,30}[a-z0-9])?$`)

// Config describes one disposable environment.
type Config struct {
	// AppName identifies the environment. Embedded in every resource tag.
	AppName string `yaml:"app_name"`

	// Region is the provider region to operate in.
	Region string `yaml:"region"`

	// Zones are the availability zones to spread subnets across.
	Zones []string `yaml:"zones"`

	// BaseCIDR is the VPC address block. Subnet /24 blocks are carved out
	// of it.
	BaseCIDR string `yaml:"base_cidr"`

	// ExistingVPCID selects an already-existing VPC instead of creating
	// one. Only the missing pieces (gateway, route) are created inside it.
	ExistingVPCID string `yaml:"existing_vpc_id,omitempty"`

	// ExistingSubnetIDs selects subnets of the existing VPC to reuse
	// instead of carving fresh blocks out of BaseCIDR. Only meaningful
	// together with ExistingVPCID.
	ExistingSubnetIDs []string `yaml:"existing_subnet_ids,omitempty"`

	// InstanceType is the compute instance size.
	InstanceType string `yaml:"instance_type"`

	// ImageID is the machine image to launch.
	ImageID string `yaml:"image_id"`

	// SkipHealthCheck disables waiting for the load balancer target to
	// report healthy after registration.
	SkipHealthCheck bool `yaml:"skip_health_check,omitempty"`

	// ExtraTags are added to every created resource on top of the run
	// tags. The run tags win on key collisions.
	ExtraTags map[string]string `yaml:"extra_tags,omitempty"`

	// AccessKeyID and SecretAccessKey select static credentials instead
	// of the default provider chain. Meant for scripted runs with no
	// shared AWS configuration; both must be set together.
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`

	// StateDir holds the persisted resource set and the private key file.
	// Defaults to ~/.skiff/<app_name>.
	StateDir string `yaml:"state_dir,omitempty"`
}

// Validate checks the configuration for completeness.
func (c *Config) Validate() error {
	if !appNameRegex.MatchString(c.AppName) {
		return fmt.Errorf("invalid app name %q: must be 1-32 lowercase alphanumeric characters or hyphens", c.AppName)
	}
	if c.Region == "" {
		return fmt.Errorf("region is required")
	}
	if len(c.Zones) == 0 {
		return fmt.Errorf("at least one zone is required")
	}
	if c.BaseCIDR == "" {
		return fmt.Errorf("base_cidr is required")
	}
	if c.InstanceType == "" {
		return fmt.Errorf("instance_type is required")
	}
	if c.ImageID == "" {
		return fmt.Errorf("image_id is required")
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return fmt.Errorf("access_key_id and secret_access_key must be set together")
	}
	return nil
}

// ApplyDefaults fills derived fields that were left empty.
func (c *Config) ApplyDefaults() error {
	if c.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to resolve home directory: %w", err)
		}
		c.StateDir = filepath.Join(home, ".skiff", c.AppName)
	}
	return nil
}

// StatePath is the location of the persisted resource set.
func (c *Config) StatePath() string {
	return filepath.Join(c.StateDir, "state.yaml")
}

// PrivateKeyPath is the location of the environment's SSH private key.
func (c *Config) PrivateKeyPath() string {
	return filepath.Join(c.StateDir, "id_rsa")
}
