package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"

	"github.com/theory-cloud/sitetheory"
	"github.com/theory-cloud/sitetheory/pkg/history"
	"github.com/theory-cloud/sitetheory/pkg/naming"
	"github.com/theory-cloud/sitetheory/pkg/observability"
)

// Engine drives a site definition to its deployed state and back.
type Engine struct {
	clients *Clients
	clock   sitetheory.Clock
	ids     sitetheory.IDGenerator
	logger  observability.StructuredLogger
	journal history.Store
	wait    WaitConfig
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock substitutes the time source used for wait deadlines and journal
// timestamps.
func WithClock(clock sitetheory.Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithIDGenerator substitutes the deploy ID source.
func WithIDGenerator(ids sitetheory.IDGenerator) Option {
	return func(e *Engine) {
		if ids != nil {
			e.ids = ids
		}
	}
}

// WithLogger attaches a structured logger. Without one the engine is silent.
func WithLogger(logger observability.StructuredLogger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithHistory attaches a durable deploy journal. Without one records go to an
// in-memory store that dies with the process.
func WithHistory(store history.Store) Option {
	return func(e *Engine) {
		if store != nil {
			e.journal = store
		}
	}
}

// WithWaitConfig overrides the polling budget. Zero fields keep defaults.
func WithWaitConfig(wait WaitConfig) Option {
	return func(e *Engine) {
		e.wait = wait
	}
}

// New builds an engine around the given AWS clients.
func New(clients *Clients, opts ...Option) (*Engine, error) {
	if clients == nil {
		return nil, fmt.Errorf("clients are required")
	}

	e := &Engine{
		clients: clients,
		clock:   sitetheory.RealClock{},
		ids:     sitetheory.ULIDGenerator{},
		logger:  observability.NewNoOpLogger(),
		journal: history.NewMemoryStore(),
		wait:    DefaultWaitConfig(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.wait = e.wait.withDefaults()
	return e, nil
}

// deployRun accumulates the identifiers a deploy produces as it walks the
// plan, so later resources can reference earlier ones.
type deployRun struct {
	deployID  string
	site      string
	zoneID    string
	accountID string
	phase     sitetheory.Phase
	log       observability.StructuredLogger

	originBucket   string
	originAccessID string
	certificateARN string
	functionARN    string
	policy         sitetheory.AccessPolicySpec
	distribution   *distributionInfo
}

// Deploy walks the definition's resource plan in dependency order and
// returns the site outputs once DNS is bound. The first failure halts the
// walk; whatever was created stays in place and a re-run adopts it.
func (e *Engine) Deploy(ctx context.Context, def *sitetheory.Definition) (*sitetheory.Outputs, error) {
	plan, err := def.Plan()
	if err != nil {
		return nil, err
	}

	deployID := e.ids.NewID()
	site := def.SiteDomain()
	log := e.logger.WithDeployID(deployID).WithSite(site)

	// Pre-flight: a wrong zone reference is a parameter error, rejected
	// before any resource exists.
	zoneID, err := e.resolveZone(ctx, def)
	if err != nil {
		log.Error("deploy rejected", map[string]any{"error": err.Error()})
		return nil, err
	}

	accountID, err := e.callerAccount(ctx)
	if err != nil {
		log.Error("deploy rejected", map[string]any{"error": err.Error()})
		return nil, err
	}

	run := &deployRun{
		deployID:  deployID,
		site:      site,
		zoneID:    zoneID,
		accountID: accountID,
		phase:     sitetheory.PhaseAbsent,
		log:       log,
	}

	log.Info("starting deploy", map[string]any{
		"resources": len(plan),
		"zone_id":   zoneID,
	})

	outputs, err := e.execute(ctx, run, plan)
	if err != nil {
		e.recordFailure(ctx, run, history.OperationDeploy, err)
		return nil, err
	}

	log.Info("deploy complete", map[string]any{
		"distribution_domain": outputs.DistributionDomain,
		"distribution_id":     outputs.DistributionID,
		"origin_bucket":       outputs.BucketName,
	})
	return outputs, nil
}

func (e *Engine) execute(ctx context.Context, run *deployRun, plan []sitetheory.Resource) (*sitetheory.Outputs, error) {
	var records []sitetheory.RecordSpec

	for _, resource := range plan {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		log := run.log.WithResource(resource.ID())

		switch spec := resource.(type) {
		case sitetheory.BucketSpec:
			log.Info("ensuring bucket", map[string]any{"bucket": spec.Name})
			if err := e.ensureBucket(ctx, spec); err != nil {
				return nil, err
			}
			if spec.ID() == sitetheory.ResOriginBucket {
				run.originBucket = spec.Name
			}

		case sitetheory.OriginAccessSpec:
			log.Info("ensuring origin access control", map[string]any{"name": spec.Name})
			id, err := e.ensureOriginAccessControl(ctx, spec)
			if err != nil {
				return nil, err
			}
			run.originAccessID = id

		case sitetheory.AccessPolicySpec:
			// Scoped to the owning account until the distribution ARN
			// exists; tightened right after the distribution is created.
			run.policy = spec
			doc, err := spec.PolicyDocument(run.accountID, "")
			if err != nil {
				return nil, err
			}
			log.Info("applying bucket policy", map[string]any{"bucket": spec.BucketName})
			if err := e.applyBucketPolicy(ctx, spec.ID(), spec.BucketName, doc); err != nil {
				return nil, err
			}

		case sitetheory.CertificateSpec:
			arn, err := e.provisionCertificate(ctx, run, spec)
			if err != nil {
				return nil, err
			}
			run.certificateARN = arn

		case sitetheory.FunctionSpec:
			log.Info("ensuring rewrite function", map[string]any{"name": spec.Name})
			arn, err := e.ensureFunction(ctx, spec)
			if err != nil {
				return nil, err
			}
			run.functionARN = arn

		case sitetheory.DistributionSpec:
			info, err := e.provisionDistribution(ctx, run, spec)
			if err != nil {
				return nil, err
			}
			run.distribution = info

		case sitetheory.RecordSpec:
			records = append(records, spec)

		default:
			return nil, provisionError(resource.ID(), "unsupported resource kind %q", resource.Kind())
		}
	}

	if err := e.bindDNS(ctx, run, records); err != nil {
		return nil, err
	}

	return &sitetheory.Outputs{
		DistributionDomain: run.distribution.DomainName,
		DistributionID:     run.distribution.ID,
		BucketName:         run.originBucket,
	}, nil
}

func (e *Engine) provisionCertificate(ctx context.Context, run *deployRun, spec sitetheory.CertificateSpec) (string, error) {
	log := run.log.WithResource(spec.ID())
	log.Info("requesting certificate", map[string]any{"names": spec.Names()})

	arn, err := e.ensureCertificate(ctx, spec, run.deployID)
	if err != nil {
		return "", err
	}
	if err := e.advance(ctx, run, sitetheory.PhaseCertificatePending, nil); err != nil {
		return "", err
	}

	validation, err := e.waitValidationRecords(ctx, spec, arn)
	if err != nil {
		return "", err
	}
	if err := e.upsertValidationRecords(ctx, spec.ID(), run.zoneID, validation); err != nil {
		return "", err
	}

	log.Info("waiting for certificate issuance", map[string]any{"certificate_arn": arn})
	if err := e.waitCertificateIssued(ctx, spec, arn); err != nil {
		return "", err
	}
	if err := e.advance(ctx, run, sitetheory.PhaseCertificateIssued, nil); err != nil {
		return "", err
	}
	return arn, nil
}

func (e *Engine) provisionDistribution(ctx context.Context, run *deployRun, spec sitetheory.DistributionSpec) (*distributionInfo, error) {
	log := run.log.WithResource(spec.ID())

	info, err := e.ensureDistribution(ctx, distributionParams{
		Spec:            spec,
		CertificateARN:  run.certificateARN,
		FunctionARN:     run.functionARN,
		OriginAccessID:  run.originAccessID,
		CallerReference: "sitetheory:" + naming.SiteSlug(run.site),
	})
	if err != nil {
		return nil, err
	}
	if err := e.advance(ctx, run, sitetheory.PhaseDistributionDeploying, nil); err != nil {
		return nil, err
	}

	// Tighten the origin read grant from account scope to this
	// distribution alone now that its ARN exists.
	doc, err := run.policy.PolicyDocument(run.accountID, info.ARN)
	if err != nil {
		return nil, err
	}
	if err := e.applyBucketPolicy(ctx, run.policy.ID(), run.policy.BucketName, doc); err != nil {
		return nil, err
	}

	log.Info("waiting for distribution deployment", map[string]any{"distribution_id": info.ID})
	if err := e.waitDistributionDeployed(ctx, spec.ID(), info.ID); err != nil {
		return nil, err
	}
	if err := e.advance(ctx, run, sitetheory.PhaseDistributionDeployed, nil); err != nil {
		return nil, err
	}
	return info, nil
}

func (e *Engine) bindDNS(ctx context.Context, run *deployRun, records []sitetheory.RecordSpec) error {
	if run.distribution == nil {
		return provisionError("dns", "plan produced no distribution to bind")
	}

	hostnames := make([]string, 0, len(records))
	for _, record := range records {
		hostnames = append(hostnames, record.Hostname)
	}
	run.log.WithResource("dns").Info("binding alias records", map[string]any{"hostnames": hostnames})

	if err := e.bindRecords(ctx, run.zoneID, run.distribution.DomainName, records); err != nil {
		return err
	}

	return e.advance(ctx, run, sitetheory.PhaseDNSBound, map[string]string{
		"distribution_domain": run.distribution.DomainName,
		"distribution_id":     run.distribution.ID,
		"origin_bucket":       run.originBucket,
	})
}

// advance moves the deploy to its next phase and journals the transition.
// A journal write failure is logged, not fatal; losing a history row must
// not strand live infrastructure mid-deploy.
func (e *Engine) advance(ctx context.Context, run *deployRun, next sitetheory.Phase, outputs map[string]string) error {
	if err := sitetheory.Advance(run.phase, next); err != nil {
		return err
	}
	run.phase = next
	run.log.WithPhase(string(next)).Info("phase advanced")

	record, err := history.NewRecord(run.site, history.OperationDeploy, run.deployID, string(next))
	if err != nil {
		return err
	}
	e.stampRecord(record)
	if len(outputs) > 0 {
		record.WithOutputs(outputs)
	}
	if _, err := e.journal.Append(ctx, record); err != nil {
		run.log.Warn("journal append failed", map[string]any{"error": err.Error()})
	}
	return nil
}

func (e *Engine) recordFailure(ctx context.Context, run *deployRun, operation string, cause error) {
	code := sitetheory.ErrorCode(cause)
	if code == "" {
		code = sitetheory.ErrorCodeProvision
	}
	run.log.WithPhase(string(sitetheory.PhaseFailed)).Error(operation+" failed", map[string]any{
		"error":      cause.Error(),
		"error_code": code,
	})

	if sitetheory.Advance(run.phase, sitetheory.PhaseFailed) != nil {
		return
	}
	run.phase = sitetheory.PhaseFailed

	record, err := history.NewRecord(run.site, operation, run.deployID, string(sitetheory.PhaseFailed))
	if err != nil {
		return
	}
	e.stampRecord(record)
	record.WithError(code, cause.Error())
	if _, err := e.journal.Append(ctx, record); err != nil {
		run.log.Warn("journal append failed", map[string]any{"error": err.Error()})
	}
}

// stampRecord rewrites the record's timestamps from the engine clock so
// deploys driven by a manual clock journal deterministically.
func (e *Engine) stampRecord(record *history.Record) {
	now := e.clock.Now().UTC()
	record.RecordedAt = now
	record.CreatedAt = now
	record.SortKey = fmt.Sprintf("%d#%s", now.UnixNano(), record.RecordID)
}

func (e *Engine) callerAccount(ctx context.Context) (string, error) {
	out, err := e.clients.STS.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", provisionError("identity", "resolve caller account: %v", err)
	}
	return aws.ToString(out.Account), nil
}

// TeardownOption adjusts what Teardown removes.
type TeardownOption func(*teardownOptions)

type teardownOptions struct {
	removeOrigin bool
}

// WithOriginRemoval also empties and deletes the versioned origin bucket,
// which is otherwise retained with the site's content.
func WithOriginRemoval() TeardownOption {
	return func(o *teardownOptions) {
		o.removeOrigin = true
	}
}

// Teardown removes the site's resources in reverse dependency order: alias
// records first, then the distribution (disabled, drained, deleted), the
// rewrite function, the policy, buckets per their retention, the origin
// access control, and the certificate with its validation records. The first
// failure halts the walk.
func (e *Engine) Teardown(ctx context.Context, def *sitetheory.Definition, opts ...TeardownOption) error {
	var options teardownOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	plan, err := def.Plan()
	if err != nil {
		return err
	}

	deployID := e.ids.NewID()
	site := def.SiteDomain()
	log := e.logger.WithDeployID(deployID).WithSite(site)

	zoneID, err := e.resolveZone(ctx, def)
	if err != nil {
		log.Error("teardown rejected", map[string]any{"error": err.Error()})
		return err
	}

	run := &deployRun{
		deployID: deployID,
		site:     site,
		zoneID:   zoneID,
		phase:    sitetheory.PhaseAbsent,
		log:      log,
	}

	log.Info("starting teardown", map[string]any{"resources": len(plan)})

	for i := len(plan) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		resource := plan[i]
		if err := e.teardownResource(ctx, run, resource, options); err != nil {
			e.recordTeardownFailure(ctx, run, err)
			return err
		}
	}

	record, err := history.NewRecord(site, history.OperationTeardown, deployID, string(sitetheory.PhaseAbsent))
	if err == nil {
		e.stampRecord(record)
		if _, err := e.journal.Append(ctx, record); err != nil {
			log.Warn("journal append failed", map[string]any{"error": err.Error()})
		}
	}

	log.Info("teardown complete")
	return nil
}

func (e *Engine) teardownResource(ctx context.Context, run *deployRun, resource sitetheory.Resource, options teardownOptions) error {
	log := run.log.WithResource(resource.ID())

	switch spec := resource.(type) {
	case sitetheory.RecordSpec:
		log.Info("deleting alias record", map[string]any{"hostname": spec.Hostname})
		return e.deleteRecord(ctx, run.zoneID, spec.Hostname, "A")

	case sitetheory.DistributionSpec:
		log.Info("removing distribution")
		return e.removeDistribution(ctx, spec)

	case sitetheory.FunctionSpec:
		log.Info("deleting rewrite function", map[string]any{"name": spec.Name})
		return e.deleteFunction(ctx, spec)

	case sitetheory.CertificateSpec:
		log.Info("deleting certificate", map[string]any{"names": spec.Names()})
		return e.removeCertificate(ctx, spec, run.zoneID)

	case sitetheory.AccessPolicySpec:
		log.Info("removing bucket policy", map[string]any{"bucket": spec.BucketName})
		return e.removeBucketPolicy(ctx, spec.ID(), spec.BucketName)

	case sitetheory.OriginAccessSpec:
		log.Info("deleting origin access control", map[string]any{"name": spec.Name})
		return e.removeOriginAccessControl(ctx, spec)

	case sitetheory.BucketSpec:
		if spec.DestroyOnTeardown || options.removeOrigin {
			log.Info("destroying bucket", map[string]any{"bucket": spec.Name})
			if err := e.emptyBucket(ctx, spec.ID(), spec.Name); err != nil {
				return err
			}
			return e.deleteBucket(ctx, spec.ID(), spec.Name)
		}
		log.Info("retaining bucket", map[string]any{"bucket": spec.Name})
		exists, err := e.bucketExists(ctx, spec)
		if err != nil || !exists {
			return err
		}
		if spec.LogBucketName != "" {
			// The log target is going away; stop delivery into it.
			return e.setBucketLogging(ctx, spec.ID(), spec.Name, "", "")
		}
		return nil

	default:
		return provisionError(resource.ID(), "unsupported resource kind %q", resource.Kind())
	}
}

func (e *Engine) recordTeardownFailure(ctx context.Context, run *deployRun, cause error) {
	code := sitetheory.ErrorCode(cause)
	if code == "" {
		code = sitetheory.ErrorCodeProvision
	}
	run.log.Error("teardown failed", map[string]any{
		"error":      cause.Error(),
		"error_code": code,
	})

	record, err := history.NewRecord(run.site, history.OperationTeardown, run.deployID, string(sitetheory.PhaseFailed))
	if err != nil {
		return
	}
	e.stampRecord(record)
	record.WithError(code, cause.Error())
	if _, err := e.journal.Append(ctx, record); err != nil {
		run.log.Warn("journal append failed", map[string]any{"error": err.Error()})
	}
}

func provisionError(resource, format string, args ...any) *sitetheory.DeployError {
	return &sitetheory.DeployError{
		Code:     sitetheory.ErrorCodeProvision,
		Resource: resource,
		Message:  fmt.Sprintf(format, args...),
	}
}

func hasAWSErrorCode(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	got := apiErr.ErrorCode()
	for _, code := range codes {
		if got == code {
			return true
		}
	}
	return false
}
