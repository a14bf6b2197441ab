package provision

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/acm"
	acmtypes "github.com/aws/aws-sdk-go-v2/service/acm/types"

	"github.com/theory-cloud/sitetheory"
)

// validationRecord is one DNS record ACM wants published to prove control
// of a certificate name.
type validationRecord struct {
	Name  string
	Type  string
	Value string
}

// ensureCertificate reuses a certificate that covers exactly the site's
// hostnames, or requests a new DNS-validated one. The idempotency token keeps
// a re-run of the same deploy from requesting twice.
func (e *Engine) ensureCertificate(ctx context.Context, spec sitetheory.CertificateSpec, idempotencyToken string) (string, error) {
	arn, err := e.findCertificate(ctx, spec)
	if err != nil {
		return "", err
	}
	if arn != "" {
		return arn, nil
	}

	input := &acm.RequestCertificateInput{
		DomainName:       aws.String(spec.DomainName),
		ValidationMethod: acmtypes.ValidationMethodDns,
		IdempotencyToken: aws.String(idempotencyToken),
	}
	if len(spec.AlternativeNames) > 0 {
		input.SubjectAlternativeNames = append([]string(nil), spec.AlternativeNames...)
	}

	out, err := e.clients.ACM.RequestCertificate(ctx, input)
	if err != nil {
		return "", provisionError(spec.ID(), "request certificate for %s: %v", spec.DomainName, err)
	}
	return aws.ToString(out.CertificateArn), nil
}

func (e *Engine) findCertificate(ctx context.Context, spec sitetheory.CertificateSpec) (string, error) {
	want := stringSet(spec.Names())

	input := &acm.ListCertificatesInput{
		CertificateStatuses: []acmtypes.CertificateStatus{
			acmtypes.CertificateStatusPendingValidation,
			acmtypes.CertificateStatusIssued,
		},
	}
	for {
		page, err := e.clients.ACM.ListCertificates(ctx, input)
		if err != nil {
			return "", provisionError(spec.ID(), "list certificates: %v", err)
		}

		for _, summary := range page.CertificateSummaryList {
			if aws.ToString(summary.DomainName) != spec.DomainName {
				continue
			}
			detail, err := e.clients.ACM.DescribeCertificate(ctx, &acm.DescribeCertificateInput{
				CertificateArn: summary.CertificateArn,
			})
			if err != nil {
				return "", provisionError(spec.ID(), "describe certificate %s: %v", aws.ToString(summary.CertificateArn), err)
			}
			if detail.Certificate == nil {
				continue
			}
			if stringSetEqual(stringSet(detail.Certificate.SubjectAlternativeNames), want) {
				return aws.ToString(summary.CertificateArn), nil
			}
		}

		if page.NextToken == nil {
			return "", nil
		}
		input.NextToken = page.NextToken
	}
}

// waitValidationRecords polls until ACM has published the DNS challenge for
// every name on the certificate. The records appear shortly after the
// request, not atomically with it.
func (e *Engine) waitValidationRecords(ctx context.Context, spec sitetheory.CertificateSpec, arn string) ([]validationRecord, error) {
	var records []validationRecord
	err := e.poll(ctx, spec.ID(), e.wait.ChangeTimeout, func(ctx context.Context) (bool, error) {
		detail, err := e.clients.ACM.DescribeCertificate(ctx, &acm.DescribeCertificateInput{
			CertificateArn: aws.String(arn),
		})
		if err != nil {
			return false, provisionError(spec.ID(), "describe certificate %s: %v", arn, err)
		}
		if detail.Certificate == nil || len(detail.Certificate.DomainValidationOptions) == 0 {
			return false, nil
		}

		seen := make(map[string]bool)
		collected := make([]validationRecord, 0, len(detail.Certificate.DomainValidationOptions))
		for _, option := range detail.Certificate.DomainValidationOptions {
			if option.ResourceRecord == nil {
				return false, nil
			}
			record := validationRecord{
				Name:  aws.ToString(option.ResourceRecord.Name),
				Type:  string(option.ResourceRecord.Type),
				Value: aws.ToString(option.ResourceRecord.Value),
			}
			// Names sharing a challenge (apex plus subdomain of the same
			// zone can) must not produce duplicate changes in one batch.
			key := record.Name + "|" + record.Value
			if seen[key] {
				continue
			}
			seen[key] = true
			collected = append(collected, record)
		}

		records = collected
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// waitCertificateIssued blocks until ACM issues the certificate. Validation
// failure or timeout halts the deploy before the distribution exists.
func (e *Engine) waitCertificateIssued(ctx context.Context, spec sitetheory.CertificateSpec, arn string) error {
	return e.poll(ctx, spec.ID(), e.wait.CertificateTimeout, func(ctx context.Context) (bool, error) {
		detail, err := e.clients.ACM.DescribeCertificate(ctx, &acm.DescribeCertificateInput{
			CertificateArn: aws.String(arn),
		})
		if err != nil {
			return false, provisionError(spec.ID(), "describe certificate %s: %v", arn, err)
		}
		if detail.Certificate == nil {
			return false, nil
		}

		switch detail.Certificate.Status {
		case acmtypes.CertificateStatusIssued:
			return true, nil
		case acmtypes.CertificateStatusPendingValidation:
			return false, nil
		default:
			return false, provisionError(spec.ID(), "certificate %s entered status %s (%s)",
				arn, detail.Certificate.Status, detail.Certificate.FailureReason)
		}
	})
}

// removeCertificate deletes the site certificate and its validation records.
// The validation names are captured before deletion; afterwards nothing
// remembers them.
func (e *Engine) removeCertificate(ctx context.Context, spec sitetheory.CertificateSpec, zoneID string) error {
	arn, err := e.findCertificate(ctx, spec)
	if err != nil {
		return err
	}
	if arn == "" {
		return nil
	}

	detail, err := e.clients.ACM.DescribeCertificate(ctx, &acm.DescribeCertificateInput{
		CertificateArn: aws.String(arn),
	})
	if err != nil && !hasAWSErrorCode(err, "ResourceNotFoundException") {
		return provisionError(spec.ID(), "describe certificate %s: %v", arn, err)
	}

	if _, err := e.clients.ACM.DeleteCertificate(ctx, &acm.DeleteCertificateInput{
		CertificateArn: aws.String(arn),
	}); err != nil && !hasAWSErrorCode(err, "ResourceNotFoundException") {
		return provisionError(spec.ID(), "delete certificate %s: %v", arn, err)
	}

	if detail != nil && detail.Certificate != nil {
		for _, option := range detail.Certificate.DomainValidationOptions {
			if option.ResourceRecord == nil {
				continue
			}
			name := aws.ToString(option.ResourceRecord.Name)
			if err := e.deleteRecord(ctx, zoneID, name, string(option.ResourceRecord.Type)); err != nil {
				return err
			}
		}
	}
	return nil
}

func stringSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

func stringSetEqual(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for v := range a {
		if !b[v] {
			return false
		}
	}
	return true
}
