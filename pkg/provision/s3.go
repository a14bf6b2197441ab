package provision

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/theory-cloud/sitetheory"
)

// Both kinds of log delivery (S3 server access logs and distribution access
// logs) write through the log-delivery group, which needs ACLs enabled on
// the target bucket.
const logDeliveryACL = "log-delivery-write"

// ensureBucket creates the bucket when absent and converges its settings
// either way. Every put below is idempotent, so a bucket left behind by an
// earlier partial deploy is adopted rather than recreated.
func (e *Engine) ensureBucket(ctx context.Context, spec sitetheory.BucketSpec) error {
	exists, err := e.bucketExists(ctx, spec)
	if err != nil {
		return err
	}

	if !exists {
		input := &s3.CreateBucketInput{Bucket: aws.String(spec.Name)}
		if e.clients.Region != "" && e.clients.Region != "us-east-1" {
			input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
				LocationConstraint: s3types.BucketLocationConstraint(e.clients.Region),
			}
		}
		if _, err := e.clients.S3.CreateBucket(ctx, input); err != nil && !hasAWSErrorCode(err, "BucketAlreadyOwnedByYou") {
			return provisionError(spec.ID(), "create bucket %s: %v", spec.Name, err)
		}
	}

	if spec.Versioned {
		_, err := e.clients.S3.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
			Bucket: aws.String(spec.Name),
			VersioningConfiguration: &s3types.VersioningConfiguration{
				Status: s3types.BucketVersioningStatusEnabled,
			},
		})
		if err != nil {
			return provisionError(spec.ID(), "enable versioning on %s: %v", spec.Name, err)
		}
	}

	if spec.Encryption != "" {
		_, err := e.clients.S3.PutBucketEncryption(ctx, &s3.PutBucketEncryptionInput{
			Bucket: aws.String(spec.Name),
			ServerSideEncryptionConfiguration: &s3types.ServerSideEncryptionConfiguration{
				Rules: []s3types.ServerSideEncryptionRule{{
					ApplyServerSideEncryptionByDefault: &s3types.ServerSideEncryptionByDefault{
						SSEAlgorithm: s3types.ServerSideEncryption(spec.Encryption),
					},
				}},
			},
		})
		if err != nil {
			return provisionError(spec.ID(), "set encryption on %s: %v", spec.Name, err)
		}
	}

	if spec.BlockPublicAccess {
		_, err := e.clients.S3.PutPublicAccessBlock(ctx, &s3.PutPublicAccessBlockInput{
			Bucket: aws.String(spec.Name),
			PublicAccessBlockConfiguration: &s3types.PublicAccessBlockConfiguration{
				BlockPublicAcls:       aws.Bool(true),
				BlockPublicPolicy:     aws.Bool(true),
				IgnorePublicAcls:      aws.Bool(true),
				RestrictPublicBuckets: aws.Bool(true),
			},
		})
		if err != nil {
			return provisionError(spec.ID(), "block public access on %s: %v", spec.Name, err)
		}
	}

	if spec.ReceivesLogDelivery {
		_, err := e.clients.S3.PutBucketOwnershipControls(ctx, &s3.PutBucketOwnershipControlsInput{
			Bucket: aws.String(spec.Name),
			OwnershipControls: &s3types.OwnershipControls{
				Rules: []s3types.OwnershipControlsRule{{
					ObjectOwnership: s3types.ObjectOwnershipBucketOwnerPreferred,
				}},
			},
		})
		if err != nil {
			return provisionError(spec.ID(), "set ownership controls on %s: %v", spec.Name, err)
		}

		_, err = e.clients.S3.PutBucketAcl(ctx, &s3.PutBucketAclInput{
			Bucket: aws.String(spec.Name),
			ACL:    s3types.BucketCannedACL(logDeliveryACL),
		})
		if err != nil {
			return provisionError(spec.ID(), "grant log delivery on %s: %v", spec.Name, err)
		}
	}

	if spec.LogBucketName != "" {
		if err := e.setBucketLogging(ctx, spec.ID(), spec.Name, spec.LogBucketName, spec.LogPrefix); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) bucketExists(ctx context.Context, spec sitetheory.BucketSpec) (bool, error) {
	_, err := e.clients.S3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(spec.Name)})
	if err == nil {
		return true, nil
	}
	if isBucketMissing(err) {
		return false, nil
	}
	return false, provisionError(spec.ID(), "head bucket %s: %v", spec.Name, err)
}

func (e *Engine) setBucketLogging(ctx context.Context, resource, bucket, target, prefix string) error {
	status := &s3types.BucketLoggingStatus{}
	if target != "" {
		status.LoggingEnabled = &s3types.LoggingEnabled{
			TargetBucket: aws.String(target),
			TargetPrefix: aws.String(prefix),
		}
	}
	_, err := e.clients.S3.PutBucketLogging(ctx, &s3.PutBucketLoggingInput{
		Bucket:              aws.String(bucket),
		BucketLoggingStatus: status,
	})
	if err != nil {
		return provisionError(resource, "configure access logging on %s: %v", bucket, err)
	}
	return nil
}

func (e *Engine) applyBucketPolicy(ctx context.Context, resource, bucket, policy string) error {
	_, err := e.clients.S3.PutBucketPolicy(ctx, &s3.PutBucketPolicyInput{
		Bucket: aws.String(bucket),
		Policy: aws.String(policy),
	})
	if err != nil {
		return provisionError(resource, "apply bucket policy on %s: %v", bucket, err)
	}
	return nil
}

func (e *Engine) removeBucketPolicy(ctx context.Context, resource, bucket string) error {
	_, err := e.clients.S3.DeleteBucketPolicy(ctx, &s3.DeleteBucketPolicyInput{Bucket: aws.String(bucket)})
	if err != nil && !isBucketMissing(err) {
		return provisionError(resource, "remove bucket policy on %s: %v", bucket, err)
	}
	return nil
}

// emptyBucket deletes every object version and delete marker. Versioned
// buckets cannot be deleted while any version remains.
func (e *Engine) emptyBucket(ctx context.Context, resource, bucket string) error {
	input := &s3.ListObjectVersionsInput{Bucket: aws.String(bucket)}
	for {
		page, err := e.clients.S3.ListObjectVersions(ctx, input)
		if err != nil {
			if isBucketMissing(err) {
				return nil
			}
			return provisionError(resource, "list object versions in %s: %v", bucket, err)
		}

		objects := make([]s3types.ObjectIdentifier, 0, len(page.Versions)+len(page.DeleteMarkers))
		for _, version := range page.Versions {
			objects = append(objects, s3types.ObjectIdentifier{Key: version.Key, VersionId: version.VersionId})
		}
		for _, marker := range page.DeleteMarkers {
			objects = append(objects, s3types.ObjectIdentifier{Key: marker.Key, VersionId: marker.VersionId})
		}

		if len(objects) > 0 {
			_, err := e.clients.S3.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(bucket),
				Delete: &s3types.Delete{Objects: objects, Quiet: aws.Bool(true)},
			})
			if err != nil {
				return provisionError(resource, "delete objects in %s: %v", bucket, err)
			}
		}

		if !aws.ToBool(page.IsTruncated) {
			return nil
		}
		input.KeyMarker = page.NextKeyMarker
		input.VersionIdMarker = page.NextVersionIdMarker
	}
}

func (e *Engine) deleteBucket(ctx context.Context, resource, bucket string) error {
	_, err := e.clients.S3.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)})
	if err != nil && !isBucketMissing(err) {
		return provisionError(resource, "delete bucket %s: %v", bucket, err)
	}
	return nil
}

func isBucketMissing(err error) bool {
	var notFound *s3types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var noSuchBucket *s3types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		return true
	}
	return hasAWSErrorCode(err, "NotFound", "NoSuchBucket")
}
