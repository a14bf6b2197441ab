// Package siteconfig loads the YAML site configuration shared by the
// provisioning CLI and the CDK entrypoint.
package siteconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/theory-cloud/sitetheory"
)

// Config is the on-disk site configuration. Only site.* is required; the
// deploy and history sections default to the engine's built-ins.
type Config struct {
	Site struct {
		SubDomain    string `yaml:"subdomain"`
		DomainName   string `yaml:"domain"`
		HostedZoneID string `yaml:"hosted_zone_id"`
		CreateApex   bool   `yaml:"create_apex"`
	} `yaml:"site"`

	Deploy struct {
		Region            string            `yaml:"region"`
		PriceClass        string            `yaml:"price_class"`
		OriginLogPrefix   string            `yaml:"origin_log_prefix"`
		CDNLogPrefix      string            `yaml:"cdn_log_prefix"`
		DefaultRootObject string            `yaml:"default_root_object"`
		Tags              map[string]string `yaml:"tags"`
	} `yaml:"deploy"`

	History struct {
		Table    string `yaml:"table"`
		Region   string `yaml:"region"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"history"`
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	//nolint:gosec // Path comes from the -config flag.
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Definition builds the validated site definition the engine and the CDK
// construct both consume. Invalid parameters surface here, before any AWS
// client is constructed.
func (c *Config) Definition() (*sitetheory.Definition, error) {
	var opts []sitetheory.Option

	if c.Site.CreateApex {
		opts = append(opts, sitetheory.WithApex())
	}
	if c.Deploy.PriceClass != "" {
		opts = append(opts, sitetheory.WithPriceClass(sitetheory.PriceClass(c.Deploy.PriceClass)))
	}
	if c.Deploy.OriginLogPrefix != "" || c.Deploy.CDNLogPrefix != "" {
		opts = append(opts, sitetheory.WithLogPrefixes(c.Deploy.OriginLogPrefix, c.Deploy.CDNLogPrefix))
	}
	if c.Deploy.DefaultRootObject != "" {
		opts = append(opts, sitetheory.WithDefaultRootObject(c.Deploy.DefaultRootObject))
	}
	if len(c.Deploy.Tags) > 0 {
		opts = append(opts, sitetheory.WithTags(c.Deploy.Tags))
	}

	return sitetheory.New(c.Site.SubDomain, c.Site.DomainName, c.Site.HostedZoneID, opts...)
}
