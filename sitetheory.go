// Package sitetheory models single-page-application hosting on AWS as a small,
// typed resource graph: a private S3 origin served through CloudFront with a
// viewer-request rewrite for client-side routing, a DNS-validated certificate,
// access logging, and Route 53 alias records.
//
// The package itself is declarative: it defines the resources, their
// dependency order, and the deploy state machine. Provisioning lives in
// pkg/provision (aws-sdk-go-v2 reconciliation engine) and pkg/stack (CDK
// construct); both consume the same definitions.
package sitetheory

import (
	"regexp"
	"strings"
)

// PriceClass selects the CloudFront edge-location tier.
type PriceClass string

const (
	PriceClass100 PriceClass = "100"
	PriceClass200 PriceClass = "200"
	PriceClassAll PriceClass = "all"
)

// Definition holds the deploy-time parameters for one site.
//
// SubDomain must be a single DNS label (no dots). The public hostname is
// SubDomain.DomainName; when CreateApex is set, DomainName itself is served
// by the same distribution.
type Definition struct {
	SubDomain    string
	DomainName   string
	HostedZoneID string
	CreateApex   bool

	PriceClass        PriceClass
	OriginLogPrefix   string
	CDNLogPrefix      string
	DefaultRootObject string
	Tags              map[string]string
}

// Outputs are the values a deploy reports back to the operator.
type Outputs struct {
	DistributionDomain string
	DistributionID     string
	BucketName         string
}

type Option func(*Definition)

// New builds a normalized, validated site definition.
func New(subDomain, domainName, hostedZoneID string, opts ...Option) (*Definition, error) {
	def := &Definition{
		SubDomain:    normalizeDNSName(subDomain),
		DomainName:   normalizeDNSName(domainName),
		HostedZoneID: NormalizeHostedZoneID(hostedZoneID),

		PriceClass:        PriceClass100,
		OriginLogPrefix:   DefaultOriginLogPrefix,
		CDNLogPrefix:      DefaultCDNLogPrefix,
		DefaultRootObject: DefaultRootObject,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(def)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

func WithApex() Option {
	return func(def *Definition) {
		def.CreateApex = true
	}
}

func WithPriceClass(class PriceClass) Option {
	return func(def *Definition) {
		if class == "" {
			def.PriceClass = PriceClass100
			return
		}
		def.PriceClass = class
	}
}

func WithTags(tags map[string]string) Option {
	return func(def *Definition) {
		if len(tags) == 0 {
			return
		}
		if def.Tags == nil {
			def.Tags = make(map[string]string, len(tags))
		}
		for k, v := range tags {
			def.Tags[k] = v
		}
	}
}

func WithLogPrefixes(origin, cdn string) Option {
	return func(def *Definition) {
		if origin != "" {
			def.OriginLogPrefix = origin
		}
		if cdn != "" {
			def.CDNLogPrefix = cdn
		}
	}
}

func WithDefaultRootObject(object string) Option {
	return func(def *Definition) {
		if object != "" {
			def.DefaultRootObject = strings.TrimPrefix(object, "/")
		}
	}
}

const (
	DefaultOriginLogPrefix = "origin-access/"
	DefaultCDNLogPrefix    = "cdn-access/"
	DefaultRootObject      = "index.html"
)

var (
	dnsLabelPattern   = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)
	hostedZonePattern = regexp.MustCompile(`^Z[A-Z0-9]{1,31}$`)
)

// Validate rejects malformed deploy parameters before any resource is
// created. Checks are case-insensitive; accessors return normalized values.
func (d *Definition) Validate() error {
	if d == nil {
		return invalidParameter("site definition is nil")
	}

	sub := normalizeDNSName(d.SubDomain)
	if sub == "" {
		return invalidParameter("subdomain must not be empty")
	}
	if strings.Contains(sub, ".") {
		return invalidParameter("subdomain %q must be a single label without dots", sub)
	}
	if !dnsLabelPattern.MatchString(sub) {
		return invalidParameter("subdomain %q is not a valid DNS label", sub)
	}

	domain := normalizeDNSName(d.DomainName)
	if domain == "" {
		return invalidParameter("domain name must not be empty")
	}
	if !strings.Contains(domain, ".") {
		return invalidParameter("domain name %q must contain at least one dot", domain)
	}
	for _, label := range strings.Split(domain, ".") {
		if !dnsLabelPattern.MatchString(label) {
			return invalidParameter("domain name %q contains invalid label %q", domain, label)
		}
	}

	zone := NormalizeHostedZoneID(d.HostedZoneID)
	if zone == "" {
		return invalidParameter("hosted zone id must not be empty")
	}
	if !hostedZonePattern.MatchString(zone) {
		return invalidParameter("hosted zone id %q is malformed", zone)
	}

	switch d.PriceClass {
	case "", PriceClass100, PriceClass200, PriceClassAll:
	default:
		return invalidParameter("unsupported price class %q", d.PriceClass)
	}

	return nil
}

// SiteDomain returns the normalized public hostname for the subdomain.
func (d *Definition) SiteDomain() string {
	return normalizeDNSName(d.SubDomain) + "." + normalizeDNSName(d.DomainName)
}

// Hostnames returns every public hostname the distribution serves: the
// subdomain, plus the apex iff CreateApex is set.
func (d *Definition) Hostnames() []string {
	if d.CreateApex {
		return []string{d.SiteDomain(), normalizeDNSName(d.DomainName)}
	}
	return []string{d.SiteDomain()}
}

// Zone returns the normalized hosted zone ID (without any /hostedzone/ prefix).
func (d *Definition) Zone() string {
	return NormalizeHostedZoneID(d.HostedZoneID)
}

// NormalizeHostedZoneID strips the optional Route 53 path prefix and
// uppercases the bare zone ID.
func NormalizeHostedZoneID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "/hostedzone/")
	id = strings.TrimPrefix(id, "hostedzone/")
	return strings.ToUpper(id)
}

func normalizeDNSName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.TrimSuffix(name, ".")
}
