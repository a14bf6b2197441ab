package sitetheory

import (
	"encoding/json"

	"github.com/theory-cloud/sitetheory/pkg/naming"
)

// ResourceKind classifies the cloud resources a site deploy manages.
type ResourceKind string

const (
	KindBucket              ResourceKind = "bucket"
	KindBucketPolicy        ResourceKind = "bucket-policy"
	KindOriginAccessControl ResourceKind = "origin-access-control"
	KindCertificate         ResourceKind = "certificate"
	KindFunction            ResourceKind = "function"
	KindDistribution        ResourceKind = "distribution"
	KindRecord              ResourceKind = "record"
)

// Logical resource IDs. These are stable graph node names, independent of
// the physical AWS names derived from the site's hostname.
const (
	ResLogBucket       = "log-bucket"
	ResOriginBucket    = "origin-bucket"
	ResOriginAccess    = "origin-access-control"
	ResBucketPolicy    = "origin-bucket-policy"
	ResCertificate     = "certificate"
	ResRewriteFunction = "rewrite-function"
	ResDistribution    = "distribution"
	ResSubdomainRecord = "dns-subdomain"
	ResApexRecord      = "dns-apex"
)

// Provider-fixed values every deploy shares.
const (
	// CloudFrontAliasZoneID is the hosted zone CloudFront publishes all
	// distribution endpoints under; alias records must reference it.
	CloudFrontAliasZoneID = "Z2FDTNDATAQYW2"

	// CachingOptimizedPolicyID is the managed cache policy keyed on
	// standard cache-control semantics.
	CachingOptimizedPolicyID = "658327ea-f89d-4fab-a63d-7e88639e58f6"

	EncryptionAES256        = "AES256"
	FunctionRuntimeJS20     = "cloudfront-js-2.0"
	MinimumTLS              = "TLSv1.2_2021"
	ViewerProtocolHTTPSOnly = "https-only"
)

// Resource is one node in a site's dependency graph.
type Resource interface {
	ID() string
	Kind() ResourceKind
	Requires() []string
}

type node struct {
	id       string
	kind     ResourceKind
	requires []string
}

func (n node) ID() string         { return n.id }
func (n node) Kind() ResourceKind { return n.kind }

func (n node) Requires() []string {
	return append([]string(nil), n.requires...)
}

// BucketSpec describes one of the two object stores. Public access is
// always fully blocked; reads go through the distribution's identity only.
type BucketSpec struct {
	node
	Name              string
	Versioned         bool
	Encryption        string
	BlockPublicAccess bool
	LogBucketName     string
	LogPrefix         string

	// ReceivesLogDelivery marks the bucket as the target of S3 server
	// access logging, which needs log-delivery write permission.
	ReceivesLogDelivery bool

	// DestroyOnTeardown empties and deletes the bucket when the site is
	// torn down instead of retaining it.
	DestroyOnTeardown bool
}

// AccessPolicySpec is the resource policy on the origin bucket. Its single
// statement grants object reads to the distribution's identity and nothing
// else; that statement is the enforcement boundary replacing a public
// bucket.
type AccessPolicySpec struct {
	node
	BucketName string
}

type policyDocument struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Sid       string                       `json:"Sid,omitempty"`
	Effect    string                       `json:"Effect"`
	Principal policyPrincipal              `json:"Principal"`
	Action    string                       `json:"Action"`
	Resource  string                       `json:"Resource"`
	Condition map[string]map[string]string `json:"Condition,omitempty"`
}

type policyPrincipal struct {
	Service string `json:"Service"`
}

// PolicyDocument renders the one-statement bucket policy. The CloudFront
// service principal alone is authorized, scoped either to a specific
// distribution ARN or, before the distribution exists, to the owning
// account. One of the two scopes is mandatory; an unscoped service
// principal would authorize every distribution on the platform.
func (s AccessPolicySpec) PolicyDocument(accountID, distributionARN string) (string, error) {
	if accountID == "" && distributionARN == "" {
		return "", invalidResource(s.ID(), "bucket policy needs an account id or distribution arn to scope the read grant")
	}

	condition := map[string]map[string]string{}
	if distributionARN != "" {
		condition["StringEquals"] = map[string]string{"AWS:SourceArn": distributionARN}
	} else {
		condition["StringEquals"] = map[string]string{"AWS:SourceAccount": accountID}
	}

	doc := policyDocument{
		Version: "2012-10-17",
		Statement: []policyStatement{
			{
				Sid:       "AllowCloudFrontRead",
				Effect:    "Allow",
				Principal: policyPrincipal{Service: "cloudfront.amazonaws.com"},
				Action:    "s3:GetObject",
				Resource:  "arn:aws:s3:::" + s.BucketName + "/*",
				Condition: condition,
			},
		},
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return "", invalidResource(s.ID(), "marshal bucket policy: %v", err)
	}
	return string(body), nil
}

// OriginAccessSpec is the identity CloudFront uses to sign origin requests.
// It carries no permissions of its own; the bucket policy grants them.
type OriginAccessSpec struct {
	node
	Name            string
	Description     string
	OriginType      string
	SigningBehavior string
	SigningProtocol string
}

// CertificateSpec requests a DNS-validated certificate covering the site
// hostname, plus the apex when configured.
type CertificateSpec struct {
	node
	DomainName       string
	AlternativeNames []string
	ZoneID           string
}

// Names returns every hostname the certificate must cover, primary first.
func (s CertificateSpec) Names() []string {
	return append([]string{s.DomainName}, s.AlternativeNames...)
}

// FunctionSpec is the viewer-request rewrite deployed to the edge.
type FunctionSpec struct {
	node
	Name    string
	Runtime string
	Comment string
	Code    string
}

// DistributionSpec composes origin, identity, certificate, and rewrite
// function into the public HTTPS endpoint.
type DistributionSpec struct {
	node
	Comment           string
	OriginBucketName  string
	Aliases           []string
	DefaultRootObject string
	PriceClass        PriceClass

	ViewerProtocol string
	AllowedMethods []string
	Compress       bool
	CachePolicyID  string
	MinimumTLS     string

	LogBucketName string
	LogPrefix     string
}

// RecordSpec is one DNS alias binding a public hostname to the
// distribution endpoint. The alias target is resolved at provision time.
type RecordSpec struct {
	node
	Hostname    string
	ZoneID      string
	AliasZoneID string
	Apex        bool
}

// Resources expands the definition into its full resource list. Order in
// the returned slice is arbitrary; Plan resolves the dependency order.
func (d *Definition) Resources() []Resource {
	site := d.SiteDomain()
	originBucket := naming.OriginBucketName(site)
	logBucket := naming.LogBucketName(site)

	resources := []Resource{
		BucketSpec{
			node:                node{id: ResLogBucket, kind: KindBucket},
			Name:                logBucket,
			Versioned:           false,
			Encryption:          EncryptionAES256,
			BlockPublicAccess:   true,
			ReceivesLogDelivery: true,
			DestroyOnTeardown:   true,
		},
		BucketSpec{
			node:              node{id: ResOriginBucket, kind: KindBucket, requires: []string{ResLogBucket}},
			Name:              originBucket,
			Versioned:         true,
			Encryption:        EncryptionAES256,
			BlockPublicAccess: true,
			LogBucketName:     logBucket,
			LogPrefix:         d.OriginLogPrefix,
		},
		OriginAccessSpec{
			node:            node{id: ResOriginAccess, kind: KindOriginAccessControl},
			Name:            naming.OriginAccessControlName(site),
			Description:     "origin access for " + site,
			OriginType:      "s3",
			SigningBehavior: "always",
			SigningProtocol: "sigv4",
		},
		AccessPolicySpec{
			node:       node{id: ResBucketPolicy, kind: KindBucketPolicy, requires: []string{ResOriginBucket, ResOriginAccess}},
			BucketName: originBucket,
		},
		CertificateSpec{
			node:             node{id: ResCertificate, kind: KindCertificate},
			DomainName:       site,
			AlternativeNames: d.certificateAlternatives(),
			ZoneID:           d.Zone(),
		},
		FunctionSpec{
			node:    node{id: ResRewriteFunction, kind: KindFunction},
			Name:    naming.RewriteFunctionName(site),
			Runtime: FunctionRuntimeJS20,
			Comment: "viewer-request rewrite for " + site,
			Code:    FunctionCode(),
		},
		DistributionSpec{
			node: node{id: ResDistribution, kind: KindDistribution, requires: []string{
				ResOriginBucket, ResOriginAccess, ResBucketPolicy, ResCertificate, ResRewriteFunction, ResLogBucket,
			}},
			Comment:           site,
			OriginBucketName:  originBucket,
			Aliases:           d.Hostnames(),
			DefaultRootObject: d.DefaultRootObject,
			PriceClass:        d.PriceClass,
			ViewerProtocol:    ViewerProtocolHTTPSOnly,
			AllowedMethods:    []string{"GET", "HEAD", "OPTIONS"},
			Compress:          true,
			CachePolicyID:     CachingOptimizedPolicyID,
			MinimumTLS:        MinimumTLS,
			LogBucketName:     logBucket,
			LogPrefix:         d.CDNLogPrefix,
		},
		RecordSpec{
			node:        node{id: ResSubdomainRecord, kind: KindRecord, requires: []string{ResDistribution}},
			Hostname:    site,
			ZoneID:      d.Zone(),
			AliasZoneID: CloudFrontAliasZoneID,
		},
	}

	if d.CreateApex {
		resources = append(resources, RecordSpec{
			node:        node{id: ResApexRecord, kind: KindRecord, requires: []string{ResDistribution}},
			Hostname:    normalizeDNSName(d.DomainName),
			ZoneID:      d.Zone(),
			AliasZoneID: CloudFrontAliasZoneID,
			Apex:        true,
		})
	}

	return resources
}

func (d *Definition) certificateAlternatives() []string {
	if !d.CreateApex {
		return nil
	}
	return []string{normalizeDNSName(d.DomainName)}
}
