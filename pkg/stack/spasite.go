// Package stack renders a site definition as a CDK construct, for teams that
// deploy through CloudFormation instead of the reconciliation engine. Both
// paths produce the same resource set from the same sitetheory.Definition.
package stack

import (
	"fmt"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscertificatemanager"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscloudfront"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscloudfrontorigins"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsroute53"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsroute53targets"
	"github.com/aws/aws-cdk-go/awscdk/v2/awss3"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"

	"github.com/theory-cloud/sitetheory"
	"github.com/theory-cloud/sitetheory/pkg/naming"
)

// SpaSiteProps configures a SpaSite construct.
type SpaSiteProps struct {
	// Definition carries the same parameters the provisioning engine takes.
	Definition *sitetheory.Definition
}

func (p *SpaSiteProps) validate() error {
	if p == nil || p.Definition == nil {
		return fmt.Errorf("stack: site definition is required")
	}
	return p.Definition.Validate()
}

// SpaSite provisions one single-page-application site: a private versioned
// origin bucket fronted by a CloudFront distribution with an origin access
// control, a viewer-request rewrite function, a DNS-validated certificate,
// an access-log bucket, and Route 53 alias records.
type SpaSite struct {
	constructs.Construct

	Bucket       awss3.Bucket
	LogsBucket   awss3.Bucket
	Certificate  awscertificatemanager.Certificate
	Function     awscloudfront.Function
	Distribution awscloudfront.Distribution
}

// NewSpaSite builds the construct. The returned struct exposes the underlying
// resources for composition (deploy pipelines, extra behaviors, tags).
func NewSpaSite(scope constructs.Construct, id *string, props *SpaSiteProps) (*SpaSite, error) {
	if err := props.validate(); err != nil {
		return nil, err
	}
	def := props.Definition
	site := def.SiteDomain()

	this := &SpaSite{Construct: constructs.NewConstruct(scope, id)}

	zone := awsroute53.HostedZone_FromHostedZoneAttributes(this.Construct, jsii.String("Zone"), &awsroute53.HostedZoneAttributes{
		HostedZoneId: jsii.String(def.Zone()),
		ZoneName:     jsii.String(def.DomainName),
	})

	// The log store is disposable; the origin bucket holds the site content
	// and survives stack deletion.
	this.LogsBucket = awss3.NewBucket(this.Construct, jsii.String("LogsBucket"), &awss3.BucketProps{
		BucketName:        jsii.String(naming.LogBucketName(site)),
		Encryption:        awss3.BucketEncryption_S3_MANAGED,
		BlockPublicAccess: awss3.BlockPublicAccess_BLOCK_ALL(),
		ObjectOwnership:   awss3.ObjectOwnership_BUCKET_OWNER_PREFERRED,
		AccessControl:     awss3.BucketAccessControl_LOG_DELIVERY_WRITE,
		EnforceSSL:        jsii.Bool(true),
		RemovalPolicy:     awscdk.RemovalPolicy_DESTROY,
		AutoDeleteObjects: jsii.Bool(true),
	})

	this.Bucket = awss3.NewBucket(this.Construct, jsii.String("OriginBucket"), &awss3.BucketProps{
		BucketName:             jsii.String(naming.OriginBucketName(site)),
		Versioned:              jsii.Bool(true),
		Encryption:             awss3.BucketEncryption_S3_MANAGED,
		BlockPublicAccess:      awss3.BlockPublicAccess_BLOCK_ALL(),
		EnforceSSL:             jsii.Bool(true),
		ServerAccessLogsBucket: this.LogsBucket,
		ServerAccessLogsPrefix: jsii.String(def.OriginLogPrefix),
		RemovalPolicy:          awscdk.RemovalPolicy_RETAIN,
	})

	this.Certificate = awscertificatemanager.NewCertificate(this.Construct, jsii.String("Certificate"), &awscertificatemanager.CertificateProps{
		DomainName:              jsii.String(site),
		SubjectAlternativeNames: alternativeNames(def),
		Validation:              awscertificatemanager.CertificateValidation_FromDns(zone),
	})

	this.Function = awscloudfront.NewFunction(this.Construct, jsii.String("RewriteFunction"), &awscloudfront.FunctionProps{
		FunctionName: jsii.String(naming.RewriteFunctionName(site)),
		Comment:      jsii.String("viewer-request rewrite for " + site),
		Runtime:      awscloudfront.FunctionRuntime_JS_2_0(),
		Code:         awscloudfront.FunctionCode_FromInline(jsii.String(sitetheory.FunctionCode())),
	})

	this.Distribution = awscloudfront.NewDistribution(this.Construct, jsii.String("Distribution"), &awscloudfront.DistributionProps{
		Comment:           jsii.String(site),
		DefaultRootObject: jsii.String(def.DefaultRootObject),
		DomainNames:       domainNames(def),
		Certificate:       this.Certificate,

		MinimumProtocolVersion: awscloudfront.SecurityPolicyProtocol_TLS_V1_2_2021,
		PriceClass:             priceClassFor(def.PriceClass),
		HttpVersion:            awscloudfront.HttpVersion_HTTP2,

		DefaultBehavior: &awscloudfront.BehaviorOptions{
			Origin:               awscloudfrontorigins.S3BucketOrigin_WithOriginAccessControl(this.Bucket, nil),
			ViewerProtocolPolicy: awscloudfront.ViewerProtocolPolicy_HTTPS_ONLY,
			AllowedMethods:       awscloudfront.AllowedMethods_ALLOW_GET_HEAD_OPTIONS(),
			CachedMethods:        awscloudfront.CachedMethods_CACHE_GET_HEAD(),
			Compress:             jsii.Bool(true),
			CachePolicy:          awscloudfront.CachePolicy_CACHING_OPTIMIZED(),
			FunctionAssociations: &[]*awscloudfront.FunctionAssociation{{
				Function:  this.Function,
				EventType: awscloudfront.FunctionEventType_VIEWER_REQUEST,
			}},
		},

		EnableLogging:      jsii.Bool(true),
		LogBucket:          this.LogsBucket,
		LogFilePrefix:      jsii.String(def.CDNLogPrefix),
		LogIncludesCookies: jsii.Bool(false),
	})

	target := awsroute53.RecordTarget_FromAlias(awsroute53targets.NewCloudFrontTarget(this.Distribution))
	awsroute53.NewARecord(this.Construct, jsii.String("SubdomainAlias"), &awsroute53.ARecordProps{
		Zone:       zone,
		RecordName: jsii.String(def.SubDomain),
		Target:     target,
	})
	if def.CreateApex {
		awsroute53.NewARecord(this.Construct, jsii.String("ApexAlias"), &awsroute53.ARecordProps{
			Zone:   zone,
			Target: target,
		})
	}

	awscdk.NewCfnOutput(this.Construct, jsii.String("DistributionDomainName"), &awscdk.CfnOutputProps{
		Value:       this.Distribution.DistributionDomainName(),
		Description: jsii.String("CloudFront endpoint for the site"),
	})
	awscdk.NewCfnOutput(this.Construct, jsii.String("DistributionId"), &awscdk.CfnOutputProps{
		Value: this.Distribution.DistributionId(),
	})
	awscdk.NewCfnOutput(this.Construct, jsii.String("OriginBucketName"), &awscdk.CfnOutputProps{
		Value:       this.Bucket.BucketName(),
		Description: jsii.String("Upload site assets here"),
	})

	return this, nil
}

func alternativeNames(def *sitetheory.Definition) *[]*string {
	if !def.CreateApex {
		return nil
	}
	return jsii.Strings(def.DomainName)
}

func domainNames(def *sitetheory.Definition) *[]*string {
	return jsii.Strings(def.Hostnames()...)
}

func priceClassFor(pc sitetheory.PriceClass) awscloudfront.PriceClass {
	switch pc {
	case sitetheory.PriceClassAll:
		return awscloudfront.PriceClass_PRICE_CLASS_ALL
	case sitetheory.PriceClass200:
		return awscloudfront.PriceClass_PRICE_CLASS_200
	default:
		return awscloudfront.PriceClass_PRICE_CLASS_100
	}
}
