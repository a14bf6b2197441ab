package provision

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"

	"github.com/theory-cloud/sitetheory"
)

const validationRecordTTL = 300

// resolveZone confirms the configured hosted zone exists and serves the
// site's domain. This runs before anything is created; a bad zone reference
// fails the whole deploy as a parameter problem.
func (e *Engine) resolveZone(ctx context.Context, def *sitetheory.Definition) (string, error) {
	zoneID := def.Zone()

	out, err := e.clients.Route53.GetHostedZone(ctx, &route53.GetHostedZoneInput{Id: aws.String(zoneID)})
	if err != nil {
		if hasAWSErrorCode(err, "NoSuchHostedZone") {
			return "", &sitetheory.DeployError{
				Code:     sitetheory.ErrorCodeUnknownZone,
				Resource: zoneID,
				Message:  "hosted zone does not exist",
			}
		}
		return "", provisionError(zoneID, "get hosted zone: %v", err)
	}

	zoneName := strings.TrimSuffix(aws.ToString(out.HostedZone.Name), ".")
	if zoneName != def.DomainName {
		return "", &sitetheory.DeployError{
			Code:     sitetheory.ErrorCodeUnknownZone,
			Resource: zoneID,
			Message:  "hosted zone serves " + zoneName + ", not " + def.DomainName,
		}
	}

	return sitetheory.NormalizeHostedZoneID(aws.ToString(out.HostedZone.Id)), nil
}

// upsertValidationRecords publishes ACM's DNS challenges and waits for the
// change to reach every Route53 name server.
func (e *Engine) upsertValidationRecords(ctx context.Context, resource, zoneID string, records []validationRecord) error {
	if len(records) == 0 {
		return nil
	}

	changes := make([]r53types.Change, 0, len(records))
	for _, record := range records {
		changes = append(changes, r53types.Change{
			Action: r53types.ChangeActionUpsert,
			ResourceRecordSet: &r53types.ResourceRecordSet{
				Name:            aws.String(record.Name),
				Type:            r53types.RRType(record.Type),
				TTL:             aws.Int64(validationRecordTTL),
				ResourceRecords: []r53types.ResourceRecord{{Value: aws.String(record.Value)}},
			},
		})
	}

	out, err := e.clients.Route53.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(zoneID),
		ChangeBatch: &r53types.ChangeBatch{
			Comment: aws.String("certificate validation"),
			Changes: changes,
		},
	})
	if err != nil {
		return provisionError(resource, "upsert validation records: %v", err)
	}
	return e.waitChangeInsync(ctx, resource, aws.ToString(out.ChangeInfo.Id))
}

// bindRecords points the site hostnames at the distribution. This is the
// last step of a deploy; until it lands the distribution is deployed but the
// hostnames still resolve wherever they did before.
func (e *Engine) bindRecords(ctx context.Context, zoneID, distributionDomain string, records []sitetheory.RecordSpec) error {
	changes := make([]r53types.Change, 0, len(records))
	for _, record := range records {
		changes = append(changes, r53types.Change{
			Action: r53types.ChangeActionUpsert,
			ResourceRecordSet: &r53types.ResourceRecordSet{
				Name: aws.String(record.Hostname),
				Type: r53types.RRTypeA,
				AliasTarget: &r53types.AliasTarget{
					HostedZoneId:         aws.String(record.AliasZoneID),
					DNSName:              aws.String(distributionDomain),
					EvaluateTargetHealth: false,
				},
			},
		})
	}

	out, err := e.clients.Route53.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(zoneID),
		ChangeBatch: &r53types.ChangeBatch{
			Comment: aws.String("site alias records"),
			Changes: changes,
		},
	})
	if err != nil {
		return provisionError("dns", "upsert alias records: %v", err)
	}
	return e.waitChangeInsync(ctx, "dns", aws.ToString(out.ChangeInfo.Id))
}

// deleteRecord removes one record set when it exists. Route53 requires the
// delete to restate the record exactly as stored, so the stored copy is
// fetched first.
func (e *Engine) deleteRecord(ctx context.Context, zoneID, name, recordType string) error {
	out, err := e.clients.Route53.ListResourceRecordSets(ctx, &route53.ListResourceRecordSetsInput{
		HostedZoneId:    aws.String(zoneID),
		StartRecordName: aws.String(name),
		StartRecordType: r53types.RRType(recordType),
		MaxItems:        aws.Int32(1),
	})
	if err != nil {
		return provisionError("dns", "list record sets for %s: %v", name, err)
	}

	for i := range out.ResourceRecordSets {
		record := out.ResourceRecordSets[i]
		if !dnsNameEqual(aws.ToString(record.Name), name) || string(record.Type) != recordType {
			continue
		}

		_, err := e.clients.Route53.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
			HostedZoneId: aws.String(zoneID),
			ChangeBatch: &r53types.ChangeBatch{
				Changes: []r53types.Change{{
					Action:            r53types.ChangeActionDelete,
					ResourceRecordSet: &record,
				}},
			},
		})
		if err != nil {
			return provisionError("dns", "delete record %s: %v", name, err)
		}
		return nil
	}
	return nil
}

func (e *Engine) waitChangeInsync(ctx context.Context, resource, changeID string) error {
	return e.poll(ctx, resource, e.wait.ChangeTimeout, func(ctx context.Context) (bool, error) {
		out, err := e.clients.Route53.GetChange(ctx, &route53.GetChangeInput{Id: aws.String(changeID)})
		if err != nil {
			return false, provisionError(resource, "get change %s: %v", changeID, err)
		}
		return out.ChangeInfo.Status == r53types.ChangeStatusInsync, nil
	})
}

func dnsNameEqual(a, b string) bool {
	return strings.TrimSuffix(strings.ToLower(a), ".") == strings.TrimSuffix(strings.ToLower(b), ".")
}
