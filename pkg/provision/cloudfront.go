package provision

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudfront/types"

	"github.com/theory-cloud/sitetheory"
)

// distributionInfo carries the identifiers a created or adopted distribution
// exposes to the rest of the deploy.
type distributionInfo struct {
	ID         string
	ARN        string
	DomainName string
}

// distributionParams joins the static spec with the identifiers earlier
// resources produced at provision time.
type distributionParams struct {
	Spec            sitetheory.DistributionSpec
	CertificateARN  string
	FunctionARN     string
	OriginAccessID  string
	CallerReference string
}

func (e *Engine) ensureOriginAccessControl(ctx context.Context, spec sitetheory.OriginAccessSpec) (string, error) {
	id, err := e.findOriginAccessControl(ctx, spec.ID(), spec.Name)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}

	out, err := e.clients.CloudFront.CreateOriginAccessControl(ctx, &cloudfront.CreateOriginAccessControlInput{
		OriginAccessControlConfig: &cftypes.OriginAccessControlConfig{
			Name:                          aws.String(spec.Name),
			Description:                   aws.String(spec.Description),
			OriginAccessControlOriginType: cftypes.OriginAccessControlOriginTypes(spec.OriginType),
			SigningBehavior:               cftypes.OriginAccessControlSigningBehaviors(spec.SigningBehavior),
			SigningProtocol:               cftypes.OriginAccessControlSigningProtocols(spec.SigningProtocol),
		},
	})
	if err != nil {
		return "", provisionError(spec.ID(), "create origin access control %s: %v", spec.Name, err)
	}
	return aws.ToString(out.OriginAccessControl.Id), nil
}

func (e *Engine) findOriginAccessControl(ctx context.Context, resource, name string) (string, error) {
	var marker *string
	for {
		page, err := e.clients.CloudFront.ListOriginAccessControls(ctx, &cloudfront.ListOriginAccessControlsInput{
			Marker: marker,
		})
		if err != nil {
			return "", provisionError(resource, "list origin access controls: %v", err)
		}
		list := page.OriginAccessControlList
		if list == nil {
			return "", nil
		}
		for _, item := range list.Items {
			if aws.ToString(item.Name) == name {
				return aws.ToString(item.Id), nil
			}
		}
		if !aws.ToBool(list.IsTruncated) || list.NextMarker == nil {
			return "", nil
		}
		marker = list.NextMarker
	}
}

func (e *Engine) removeOriginAccessControl(ctx context.Context, spec sitetheory.OriginAccessSpec) error {
	id, err := e.findOriginAccessControl(ctx, spec.ID(), spec.Name)
	if err != nil {
		return err
	}
	if id == "" {
		return nil
	}

	current, err := e.clients.CloudFront.GetOriginAccessControl(ctx, &cloudfront.GetOriginAccessControlInput{
		Id: aws.String(id),
	})
	if err != nil {
		if hasAWSErrorCode(err, "NoSuchOriginAccessControl") {
			return nil
		}
		return provisionError(spec.ID(), "get origin access control %s: %v", id, err)
	}

	_, err = e.clients.CloudFront.DeleteOriginAccessControl(ctx, &cloudfront.DeleteOriginAccessControlInput{
		Id:      aws.String(id),
		IfMatch: current.ETag,
	})
	if err != nil && !hasAWSErrorCode(err, "NoSuchOriginAccessControl") {
		return provisionError(spec.ID(), "delete origin access control %s: %v", id, err)
	}
	return nil
}

// ensureFunction creates or updates the rewrite function and publishes it to
// the live stage. The published ARN is what the distribution associates.
func (e *Engine) ensureFunction(ctx context.Context, spec sitetheory.FunctionSpec) (string, error) {
	config := &cftypes.FunctionConfig{
		Comment: aws.String(spec.Comment),
		Runtime: cftypes.FunctionRuntime(spec.Runtime),
	}
	code := []byte(spec.Code)

	described, err := e.clients.CloudFront.DescribeFunction(ctx, &cloudfront.DescribeFunctionInput{
		Name: aws.String(spec.Name),
	})
	switch {
	case err == nil:
		updated, err := e.clients.CloudFront.UpdateFunction(ctx, &cloudfront.UpdateFunctionInput{
			Name:           aws.String(spec.Name),
			IfMatch:        described.ETag,
			FunctionConfig: config,
			FunctionCode:   code,
		})
		if err != nil {
			return "", provisionError(spec.ID(), "update function %s: %v", spec.Name, err)
		}
		return e.publishFunction(ctx, spec, updated.ETag)

	case hasAWSErrorCode(err, "NoSuchFunctionExists"):
		created, err := e.clients.CloudFront.CreateFunction(ctx, &cloudfront.CreateFunctionInput{
			Name:           aws.String(spec.Name),
			FunctionConfig: config,
			FunctionCode:   code,
		})
		if err != nil {
			return "", provisionError(spec.ID(), "create function %s: %v", spec.Name, err)
		}
		return e.publishFunction(ctx, spec, created.ETag)

	default:
		return "", provisionError(spec.ID(), "describe function %s: %v", spec.Name, err)
	}
}

func (e *Engine) publishFunction(ctx context.Context, spec sitetheory.FunctionSpec, etag *string) (string, error) {
	published, err := e.clients.CloudFront.PublishFunction(ctx, &cloudfront.PublishFunctionInput{
		Name:    aws.String(spec.Name),
		IfMatch: etag,
	})
	if err != nil {
		return "", provisionError(spec.ID(), "publish function %s: %v", spec.Name, err)
	}
	if published.FunctionSummary == nil || published.FunctionSummary.FunctionMetadata == nil {
		return "", provisionError(spec.ID(), "publish function %s returned no metadata", spec.Name)
	}
	return aws.ToString(published.FunctionSummary.FunctionMetadata.FunctionARN), nil
}

func (e *Engine) deleteFunction(ctx context.Context, spec sitetheory.FunctionSpec) error {
	described, err := e.clients.CloudFront.DescribeFunction(ctx, &cloudfront.DescribeFunctionInput{
		Name: aws.String(spec.Name),
	})
	if err != nil {
		if hasAWSErrorCode(err, "NoSuchFunctionExists") {
			return nil
		}
		return provisionError(spec.ID(), "describe function %s: %v", spec.Name, err)
	}

	_, err = e.clients.CloudFront.DeleteFunction(ctx, &cloudfront.DeleteFunctionInput{
		Name:    aws.String(spec.Name),
		IfMatch: described.ETag,
	})
	if err != nil && !hasAWSErrorCode(err, "NoSuchFunctionExists") {
		return provisionError(spec.ID(), "delete function %s: %v", spec.Name, err)
	}
	return nil
}

// ensureDistribution adopts the distribution already serving the site's
// hostname or creates one. Adoption converges the config to the desired
// shape, preserving only the original caller reference (immutable after
// creation).
func (e *Engine) ensureDistribution(ctx context.Context, params distributionParams) (*distributionInfo, error) {
	resource := params.Spec.ID()
	if len(params.Spec.Aliases) == 0 {
		return nil, provisionError(resource, "distribution needs at least one alias")
	}

	existing, err := e.findDistributionByAlias(ctx, resource, params.Spec.Aliases[0])
	if err != nil {
		return nil, err
	}

	if existing != nil {
		current, err := e.clients.CloudFront.GetDistributionConfig(ctx, &cloudfront.GetDistributionConfigInput{
			Id: existing.Id,
		})
		if err != nil {
			return nil, provisionError(resource, "get distribution config %s: %v", aws.ToString(existing.Id), err)
		}

		desired := e.distributionConfig(params, aws.ToString(current.DistributionConfig.CallerReference))
		updated, err := e.clients.CloudFront.UpdateDistribution(ctx, &cloudfront.UpdateDistributionInput{
			Id:                 existing.Id,
			IfMatch:            current.ETag,
			DistributionConfig: desired,
		})
		if err != nil {
			return nil, provisionError(resource, "update distribution %s: %v", aws.ToString(existing.Id), err)
		}
		return &distributionInfo{
			ID:         aws.ToString(updated.Distribution.Id),
			ARN:        aws.ToString(updated.Distribution.ARN),
			DomainName: aws.ToString(updated.Distribution.DomainName),
		}, nil
	}

	created, err := e.clients.CloudFront.CreateDistribution(ctx, &cloudfront.CreateDistributionInput{
		DistributionConfig: e.distributionConfig(params, params.CallerReference),
	})
	if err != nil {
		return nil, provisionError(resource, "create distribution: %v", err)
	}
	return &distributionInfo{
		ID:         aws.ToString(created.Distribution.Id),
		ARN:        aws.ToString(created.Distribution.ARN),
		DomainName: aws.ToString(created.Distribution.DomainName),
	}, nil
}

func (e *Engine) distributionConfig(params distributionParams, callerReference string) *cftypes.DistributionConfig {
	spec := params.Spec
	originID := spec.OriginBucketName
	originDomain := fmt.Sprintf("%s.s3.%s.amazonaws.com", spec.OriginBucketName, e.clients.Region)

	methods := make([]cftypes.Method, 0, len(spec.AllowedMethods))
	for _, m := range spec.AllowedMethods {
		methods = append(methods, cftypes.Method(m))
	}

	return &cftypes.DistributionConfig{
		CallerReference:   aws.String(callerReference),
		Comment:           aws.String(spec.Comment),
		Enabled:           aws.Bool(true),
		DefaultRootObject: aws.String(spec.DefaultRootObject),
		HttpVersion:       cftypes.HttpVersionHttp2,
		IsIPV6Enabled:     aws.Bool(true),
		PriceClass:        distributionPriceClass(spec.PriceClass),
		Aliases: &cftypes.Aliases{
			Quantity: aws.Int32(int32(len(spec.Aliases))),
			Items:    spec.Aliases,
		},
		Origins: &cftypes.Origins{
			Quantity: aws.Int32(1),
			Items: []cftypes.Origin{{
				Id:                    aws.String(originID),
				DomainName:            aws.String(originDomain),
				OriginAccessControlId: aws.String(params.OriginAccessID),
				// Required empty when origin access control signs instead
				// of a legacy origin access identity.
				S3OriginConfig: &cftypes.S3OriginConfig{OriginAccessIdentity: aws.String("")},
			}},
		},
		DefaultCacheBehavior: &cftypes.DefaultCacheBehavior{
			TargetOriginId:       aws.String(originID),
			ViewerProtocolPolicy: cftypes.ViewerProtocolPolicy(spec.ViewerProtocol),
			Compress:             aws.Bool(spec.Compress),
			CachePolicyId:        aws.String(spec.CachePolicyID),
			AllowedMethods: &cftypes.AllowedMethods{
				Quantity: aws.Int32(int32(len(methods))),
				Items:    methods,
				CachedMethods: &cftypes.CachedMethods{
					Quantity: aws.Int32(2),
					Items:    []cftypes.Method{cftypes.MethodGet, cftypes.MethodHead},
				},
			},
			FunctionAssociations: &cftypes.FunctionAssociations{
				Quantity: aws.Int32(1),
				Items: []cftypes.FunctionAssociation{{
					EventType:   cftypes.EventTypeViewerRequest,
					FunctionARN: aws.String(params.FunctionARN),
				}},
			},
		},
		ViewerCertificate: &cftypes.ViewerCertificate{
			ACMCertificateArn:      aws.String(params.CertificateARN),
			SSLSupportMethod:       cftypes.SSLSupportMethodSniOnly,
			MinimumProtocolVersion: cftypes.MinimumProtocolVersion(spec.MinimumTLS),
		},
		Logging: &cftypes.LoggingConfig{
			Enabled:        aws.Bool(true),
			IncludeCookies: aws.Bool(false),
			Bucket:         aws.String(spec.LogBucketName + ".s3.amazonaws.com"),
			Prefix:         aws.String(spec.LogPrefix),
		},
		Restrictions: &cftypes.Restrictions{
			GeoRestriction: &cftypes.GeoRestriction{
				RestrictionType: cftypes.GeoRestrictionTypeNone,
				Quantity:        aws.Int32(0),
			},
		},
	}
}

func (e *Engine) findDistributionByAlias(ctx context.Context, resource, alias string) (*cftypes.DistributionSummary, error) {
	var marker *string
	for {
		page, err := e.clients.CloudFront.ListDistributions(ctx, &cloudfront.ListDistributionsInput{
			Marker: marker,
		})
		if err != nil {
			return nil, provisionError(resource, "list distributions: %v", err)
		}
		list := page.DistributionList
		if list == nil {
			return nil, nil
		}
		for i := range list.Items {
			item := list.Items[i]
			if item.Aliases == nil {
				continue
			}
			for _, candidate := range item.Aliases.Items {
				if candidate == alias {
					return &item, nil
				}
			}
		}
		if !aws.ToBool(list.IsTruncated) || list.NextMarker == nil {
			return nil, nil
		}
		marker = list.NextMarker
	}
}

// waitDistributionDeployed blocks until the distribution has propagated to
// every edge location. Routing traffic at it earlier serves errors from the
// locations the config has not reached.
func (e *Engine) waitDistributionDeployed(ctx context.Context, resource, id string) error {
	return e.poll(ctx, resource, e.wait.DistributionTimeout, func(ctx context.Context) (bool, error) {
		out, err := e.clients.CloudFront.GetDistribution(ctx, &cloudfront.GetDistributionInput{
			Id: aws.String(id),
		})
		if err != nil {
			return false, provisionError(resource, "get distribution %s: %v", id, err)
		}
		return aws.ToString(out.Distribution.Status) == "Deployed", nil
	})
}

// removeDistribution disables the distribution, waits for the disable to
// propagate, then deletes it. CloudFront refuses to delete an enabled or
// still-propagating distribution.
func (e *Engine) removeDistribution(ctx context.Context, spec sitetheory.DistributionSpec) error {
	resource := spec.ID()
	if len(spec.Aliases) == 0 {
		return nil
	}

	existing, err := e.findDistributionByAlias(ctx, resource, spec.Aliases[0])
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}
	id := aws.ToString(existing.Id)

	current, err := e.clients.CloudFront.GetDistributionConfig(ctx, &cloudfront.GetDistributionConfigInput{
		Id: existing.Id,
	})
	if err != nil {
		if hasAWSErrorCode(err, "NoSuchDistribution") {
			return nil
		}
		return provisionError(resource, "get distribution config %s: %v", id, err)
	}

	if aws.ToBool(current.DistributionConfig.Enabled) {
		current.DistributionConfig.Enabled = aws.Bool(false)
		if _, err := e.clients.CloudFront.UpdateDistribution(ctx, &cloudfront.UpdateDistributionInput{
			Id:                 existing.Id,
			IfMatch:            current.ETag,
			DistributionConfig: current.DistributionConfig,
		}); err != nil {
			return provisionError(resource, "disable distribution %s: %v", id, err)
		}
	}

	if err := e.waitDistributionDeployed(ctx, resource, id); err != nil {
		return err
	}

	// The disable bumped the ETag; fetch the current one for the delete.
	latest, err := e.clients.CloudFront.GetDistribution(ctx, &cloudfront.GetDistributionInput{
		Id: existing.Id,
	})
	if err != nil {
		if hasAWSErrorCode(err, "NoSuchDistribution") {
			return nil
		}
		return provisionError(resource, "get distribution %s: %v", id, err)
	}

	_, err = e.clients.CloudFront.DeleteDistribution(ctx, &cloudfront.DeleteDistributionInput{
		Id:      existing.Id,
		IfMatch: latest.ETag,
	})
	if err != nil && !hasAWSErrorCode(err, "NoSuchDistribution") {
		return provisionError(resource, "delete distribution %s: %v", id, err)
	}
	return nil
}

func distributionPriceClass(pc sitetheory.PriceClass) cftypes.PriceClass {
	switch pc {
	case sitetheory.PriceClassAll:
		return cftypes.PriceClassPriceClassAll
	case sitetheory.PriceClass200:
		return cftypes.PriceClassPriceClass200
	default:
		return cftypes.PriceClassPriceClass100
	}
}
