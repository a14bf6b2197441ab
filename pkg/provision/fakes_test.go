package provision

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/acm"
	acmtypes "github.com/aws/aws-sdk-go-v2/service/acm/types"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
)

// The narrow interfaces must stay satisfiable by the real SDK clients.
var (
	_ s3API         = (*s3.Client)(nil)
	_ acmAPI        = (*acm.Client)(nil)
	_ cloudfrontAPI = (*cloudfront.Client)(nil)
	_ route53API    = (*route53.Client)(nil)
	_ stsAPI        = (*sts.Client)(nil)
)

type fakeAPIError struct {
	code    string
	message string
}

func (e *fakeAPIError) Error() string                 { return e.code + ": " + e.message }
func (e *fakeAPIError) ErrorCode() string             { return e.code }
func (e *fakeAPIError) ErrorMessage() string          { return e.message }
func (e *fakeAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

func apiError(code, format string, args ...any) error {
	return &fakeAPIError{code: code, message: fmt.Sprintf(format, args...)}
}

type fakeBucket struct {
	versioned      bool
	encryption     string
	publicBlocked  bool
	ownership      string
	acl            string
	loggingTarget  string
	loggingPrefix  string
	policy         string
	objectVersions map[string][]string // key -> version ids
}

type fakeCertificate struct {
	arn           string
	names         []string // primary first
	describeCalls int
}

type fakeOAC struct {
	id   string
	name string
	etag string
}

type fakeFunction struct {
	name      string
	comment   string
	runtime   string
	code      []byte
	etag      string
	published bool
}

type fakeDistribution struct {
	id            string
	arn           string
	domainName    string
	config        *cftypes.DistributionConfig
	etag          string
	remainingGets int
}

type fakeZone struct {
	id      string
	name    string
	records map[string]r53types.ResourceRecordSet
}

// fakeAWS is an in-memory stand-in for the five services the engine drives.
// It models the sequencing rules that matter: certificates stay pending until
// their validation records exist in the zone, distributions refuse unissued
// certificates, and deletes demand matching ETags on disabled distributions.
type fakeAWS struct {
	mu sync.Mutex

	region  string
	account string

	buckets       map[string]*fakeBucket
	certs         map[string]*fakeCertificate
	oacs          map[string]*fakeOAC
	functions     map[string]*fakeFunction
	distributions map[string]*fakeDistribution
	zone          *fakeZone
	changeGets    map[string]int

	seq int

	certStatusOverride       acmtypes.CertificateStatus
	distributionNeverDeploys bool

	createBucketCalls       int
	requestCertificateCalls int
	createOACCalls          int
	createFunctionCalls     int
	updateFunctionCalls     int
	createDistributionCalls int
	updateDistributionCalls int
}

func newFakeAWS() *fakeAWS {
	return &fakeAWS{
		region:        "us-east-1",
		account:       "123456789012",
		buckets:       map[string]*fakeBucket{},
		certs:         map[string]*fakeCertificate{},
		oacs:          map[string]*fakeOAC{},
		functions:     map[string]*fakeFunction{},
		distributions: map[string]*fakeDistribution{},
		zone: &fakeZone{
			id:      "Z0123456789ABC",
			name:    "example.com.",
			records: map[string]r53types.ResourceRecordSet{},
		},
		changeGets: map[string]int{},
	}
}

func (f *fakeAWS) clients() *Clients {
	return &Clients{S3: f, ACM: f, CloudFront: f, Route53: f, STS: f, Region: f.region}
}

func (f *fakeAWS) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s%04d", prefix, f.seq)
}

func recordKey(name, recordType string) string {
	return strings.TrimSuffix(strings.ToLower(name), ".") + ".|" + recordType
}

func validationName(domain string) string {
	return "_acmvalidate." + domain + "."
}

// certStatus derives the certificate's lifecycle from the zone contents:
// pending until every name's validation CNAME is published.
func (f *fakeAWS) certStatus(cert *fakeCertificate) acmtypes.CertificateStatus {
	if f.certStatusOverride != "" {
		return f.certStatusOverride
	}
	for _, name := range cert.names {
		if _, ok := f.zone.records[recordKey(validationName(name), "CNAME")]; !ok {
			return acmtypes.CertificateStatusPendingValidation
		}
	}
	return acmtypes.CertificateStatusIssued
}

// --- S3 ---

func (f *fakeAWS) HeadBucket(_ context.Context, params *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.buckets[aws.ToString(params.Bucket)]; !ok {
		return nil, apiError("NotFound", "bucket %s", aws.ToString(params.Bucket))
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeAWS) CreateBucket(_ context.Context, params *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(params.Bucket)
	if _, ok := f.buckets[name]; ok {
		return nil, apiError("BucketAlreadyOwnedByYou", "bucket %s", name)
	}
	f.createBucketCalls++
	f.buckets[name] = &fakeBucket{objectVersions: map[string][]string{}}
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeAWS) bucket(name string) (*fakeBucket, error) {
	bucket, ok := f.buckets[name]
	if !ok {
		return nil, apiError("NoSuchBucket", "bucket %s", name)
	}
	return bucket, nil
}

func (f *fakeAWS) PutBucketVersioning(_ context.Context, params *s3.PutBucketVersioningInput, _ ...func(*s3.Options)) (*s3.PutBucketVersioningOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bucket, err := f.bucket(aws.ToString(params.Bucket))
	if err != nil {
		return nil, err
	}
	bucket.versioned = params.VersioningConfiguration.Status == s3types.BucketVersioningStatusEnabled
	return &s3.PutBucketVersioningOutput{}, nil
}

func (f *fakeAWS) PutBucketEncryption(_ context.Context, params *s3.PutBucketEncryptionInput, _ ...func(*s3.Options)) (*s3.PutBucketEncryptionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bucket, err := f.bucket(aws.ToString(params.Bucket))
	if err != nil {
		return nil, err
	}
	rules := params.ServerSideEncryptionConfiguration.Rules
	if len(rules) > 0 && rules[0].ApplyServerSideEncryptionByDefault != nil {
		bucket.encryption = string(rules[0].ApplyServerSideEncryptionByDefault.SSEAlgorithm)
	}
	return &s3.PutBucketEncryptionOutput{}, nil
}

func (f *fakeAWS) PutPublicAccessBlock(_ context.Context, params *s3.PutPublicAccessBlockInput, _ ...func(*s3.Options)) (*s3.PutPublicAccessBlockOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bucket, err := f.bucket(aws.ToString(params.Bucket))
	if err != nil {
		return nil, err
	}
	cfg := params.PublicAccessBlockConfiguration
	bucket.publicBlocked = aws.ToBool(cfg.BlockPublicAcls) && aws.ToBool(cfg.BlockPublicPolicy) &&
		aws.ToBool(cfg.IgnorePublicAcls) && aws.ToBool(cfg.RestrictPublicBuckets)
	return &s3.PutPublicAccessBlockOutput{}, nil
}

func (f *fakeAWS) PutBucketOwnershipControls(_ context.Context, params *s3.PutBucketOwnershipControlsInput, _ ...func(*s3.Options)) (*s3.PutBucketOwnershipControlsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bucket, err := f.bucket(aws.ToString(params.Bucket))
	if err != nil {
		return nil, err
	}
	if len(params.OwnershipControls.Rules) > 0 {
		bucket.ownership = string(params.OwnershipControls.Rules[0].ObjectOwnership)
	}
	return &s3.PutBucketOwnershipControlsOutput{}, nil
}

func (f *fakeAWS) PutBucketAcl(_ context.Context, params *s3.PutBucketAclInput, _ ...func(*s3.Options)) (*s3.PutBucketAclOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bucket, err := f.bucket(aws.ToString(params.Bucket))
	if err != nil {
		return nil, err
	}
	bucket.acl = string(params.ACL)
	return &s3.PutBucketAclOutput{}, nil
}

func (f *fakeAWS) PutBucketLogging(_ context.Context, params *s3.PutBucketLoggingInput, _ ...func(*s3.Options)) (*s3.PutBucketLoggingOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bucket, err := f.bucket(aws.ToString(params.Bucket))
	if err != nil {
		return nil, err
	}
	enabled := params.BucketLoggingStatus.LoggingEnabled
	if enabled == nil {
		bucket.loggingTarget, bucket.loggingPrefix = "", ""
		return &s3.PutBucketLoggingOutput{}, nil
	}
	bucket.loggingTarget = aws.ToString(enabled.TargetBucket)
	bucket.loggingPrefix = aws.ToString(enabled.TargetPrefix)
	return &s3.PutBucketLoggingOutput{}, nil
}

func (f *fakeAWS) PutBucketPolicy(_ context.Context, params *s3.PutBucketPolicyInput, _ ...func(*s3.Options)) (*s3.PutBucketPolicyOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bucket, err := f.bucket(aws.ToString(params.Bucket))
	if err != nil {
		return nil, err
	}
	bucket.policy = aws.ToString(params.Policy)
	return &s3.PutBucketPolicyOutput{}, nil
}

func (f *fakeAWS) DeleteBucketPolicy(_ context.Context, params *s3.DeleteBucketPolicyInput, _ ...func(*s3.Options)) (*s3.DeleteBucketPolicyOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bucket, err := f.bucket(aws.ToString(params.Bucket))
	if err != nil {
		return nil, err
	}
	bucket.policy = ""
	return &s3.DeleteBucketPolicyOutput{}, nil
}

func (f *fakeAWS) ListObjectVersions(_ context.Context, params *s3.ListObjectVersionsInput, _ ...func(*s3.Options)) (*s3.ListObjectVersionsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bucket, err := f.bucket(aws.ToString(params.Bucket))
	if err != nil {
		return nil, err
	}
	out := &s3.ListObjectVersionsOutput{IsTruncated: aws.Bool(false)}
	keys := make([]string, 0, len(bucket.objectVersions))
	for key := range bucket.objectVersions {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		for _, version := range bucket.objectVersions[key] {
			out.Versions = append(out.Versions, s3types.ObjectVersion{
				Key:       aws.String(key),
				VersionId: aws.String(version),
			})
		}
	}
	return out, nil
}

func (f *fakeAWS) DeleteObjects(_ context.Context, params *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bucket, err := f.bucket(aws.ToString(params.Bucket))
	if err != nil {
		return nil, err
	}
	for _, object := range params.Delete.Objects {
		key := aws.ToString(object.Key)
		want := aws.ToString(object.VersionId)
		remaining := bucket.objectVersions[key][:0]
		for _, version := range bucket.objectVersions[key] {
			if version != want {
				remaining = append(remaining, version)
			}
		}
		if len(remaining) == 0 {
			delete(bucket.objectVersions, key)
		} else {
			bucket.objectVersions[key] = remaining
		}
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeAWS) DeleteBucket(_ context.Context, params *s3.DeleteBucketInput, _ ...func(*s3.Options)) (*s3.DeleteBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(params.Bucket)
	bucket, err := f.bucket(name)
	if err != nil {
		return nil, err
	}
	if len(bucket.objectVersions) > 0 {
		return nil, apiError("BucketNotEmpty", "bucket %s is not empty", name)
	}
	delete(f.buckets, name)
	return &s3.DeleteBucketOutput{}, nil
}

// --- ACM ---

func (f *fakeAWS) RequestCertificate(_ context.Context, params *acm.RequestCertificateInput, _ ...func(*acm.Options)) (*acm.RequestCertificateOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requestCertificateCalls++
	arn := "arn:aws:acm:us-east-1:" + f.account + ":certificate/" + f.nextID("cert-")
	names := append([]string{aws.ToString(params.DomainName)}, params.SubjectAlternativeNames...)
	f.certs[arn] = &fakeCertificate{arn: arn, names: names}
	return &acm.RequestCertificateOutput{CertificateArn: aws.String(arn)}, nil
}

func (f *fakeAWS) DescribeCertificate(_ context.Context, params *acm.DescribeCertificateInput, _ ...func(*acm.Options)) (*acm.DescribeCertificateOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cert, ok := f.certs[aws.ToString(params.CertificateArn)]
	if !ok {
		return nil, apiError("ResourceNotFoundException", "certificate %s", aws.ToString(params.CertificateArn))
	}
	cert.describeCalls++

	options := make([]acmtypes.DomainValidation, 0, len(cert.names))
	for _, name := range cert.names {
		option := acmtypes.DomainValidation{DomainName: aws.String(name)}
		// ACM publishes the DNS challenge shortly after the request, not
		// in the same instant; the first describe sees none.
		if cert.describeCalls >= 2 {
			option.ResourceRecord = &acmtypes.ResourceRecord{
				Name:  aws.String(validationName(name)),
				Type:  acmtypes.RecordTypeCname,
				Value: aws.String(name + ".validations.example.aws."),
			}
		}
		options = append(options, option)
	}

	return &acm.DescribeCertificateOutput{
		Certificate: &acmtypes.CertificateDetail{
			CertificateArn:          aws.String(cert.arn),
			DomainName:              aws.String(cert.names[0]),
			SubjectAlternativeNames: append([]string(nil), cert.names...),
			Status:                  f.certStatus(cert),
			DomainValidationOptions: options,
		},
	}, nil
}

func (f *fakeAWS) ListCertificates(_ context.Context, params *acm.ListCertificatesInput, _ ...func(*acm.Options)) (*acm.ListCertificatesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &acm.ListCertificatesOutput{}
	arns := make([]string, 0, len(f.certs))
	for arn := range f.certs {
		arns = append(arns, arn)
	}
	sort.Strings(arns)
	for _, arn := range arns {
		cert := f.certs[arn]
		status := f.certStatus(cert)
		matches := len(params.CertificateStatuses) == 0
		for _, want := range params.CertificateStatuses {
			if status == want {
				matches = true
				break
			}
		}
		if !matches {
			continue
		}
		out.CertificateSummaryList = append(out.CertificateSummaryList, acmtypes.CertificateSummary{
			CertificateArn: aws.String(cert.arn),
			DomainName:     aws.String(cert.names[0]),
		})
	}
	return out, nil
}

func (f *fakeAWS) DeleteCertificate(_ context.Context, params *acm.DeleteCertificateInput, _ ...func(*acm.Options)) (*acm.DeleteCertificateOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	arn := aws.ToString(params.CertificateArn)
	if _, ok := f.certs[arn]; !ok {
		return nil, apiError("ResourceNotFoundException", "certificate %s", arn)
	}
	for _, dist := range f.distributions {
		if dist.config.ViewerCertificate == nil {
			continue
		}
		if aws.ToString(dist.config.ViewerCertificate.ACMCertificateArn) == arn {
			return nil, apiError("ResourceInUseException", "certificate %s is attached to %s", arn, dist.id)
		}
	}
	delete(f.certs, arn)
	return &acm.DeleteCertificateOutput{}, nil
}

// --- CloudFront ---

func (f *fakeAWS) CreateOriginAccessControl(_ context.Context, params *cloudfront.CreateOriginAccessControlInput, _ ...func(*cloudfront.Options)) (*cloudfront.CreateOriginAccessControlOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createOACCalls++
	oac := &fakeOAC{
		id:   f.nextID("OAC"),
		name: aws.ToString(params.OriginAccessControlConfig.Name),
		etag: f.nextID("E"),
	}
	f.oacs[oac.id] = oac
	return &cloudfront.CreateOriginAccessControlOutput{
		OriginAccessControl: &cftypes.OriginAccessControl{Id: aws.String(oac.id)},
		ETag:                aws.String(oac.etag),
	}, nil
}

func (f *fakeAWS) ListOriginAccessControls(_ context.Context, _ *cloudfront.ListOriginAccessControlsInput, _ ...func(*cloudfront.Options)) (*cloudfront.ListOriginAccessControlsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := &cftypes.OriginAccessControlList{IsTruncated: aws.Bool(false)}
	ids := make([]string, 0, len(f.oacs))
	for id := range f.oacs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		oac := f.oacs[id]
		list.Items = append(list.Items, cftypes.OriginAccessControlSummary{
			Id:   aws.String(oac.id),
			Name: aws.String(oac.name),
		})
	}
	return &cloudfront.ListOriginAccessControlsOutput{OriginAccessControlList: list}, nil
}

func (f *fakeAWS) GetOriginAccessControl(_ context.Context, params *cloudfront.GetOriginAccessControlInput, _ ...func(*cloudfront.Options)) (*cloudfront.GetOriginAccessControlOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	oac, ok := f.oacs[aws.ToString(params.Id)]
	if !ok {
		return nil, apiError("NoSuchOriginAccessControl", "origin access control %s", aws.ToString(params.Id))
	}
	return &cloudfront.GetOriginAccessControlOutput{
		OriginAccessControl: &cftypes.OriginAccessControl{Id: aws.String(oac.id)},
		ETag:                aws.String(oac.etag),
	}, nil
}

func (f *fakeAWS) DeleteOriginAccessControl(_ context.Context, params *cloudfront.DeleteOriginAccessControlInput, _ ...func(*cloudfront.Options)) (*cloudfront.DeleteOriginAccessControlOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	oac, ok := f.oacs[aws.ToString(params.Id)]
	if !ok {
		return nil, apiError("NoSuchOriginAccessControl", "origin access control %s", aws.ToString(params.Id))
	}
	if aws.ToString(params.IfMatch) != oac.etag {
		return nil, apiError("InvalidIfMatchVersion", "etag mismatch")
	}
	delete(f.oacs, oac.id)
	return &cloudfront.DeleteOriginAccessControlOutput{}, nil
}

func functionARN(account, name string) string {
	return "arn:aws:cloudfront::" + account + ":function/" + name
}

func (f *fakeAWS) functionSummary(fn *fakeFunction) *cftypes.FunctionSummary {
	return &cftypes.FunctionSummary{
		Name: aws.String(fn.name),
		FunctionConfig: &cftypes.FunctionConfig{
			Comment: aws.String(fn.comment),
			Runtime: cftypes.FunctionRuntime(fn.runtime),
		},
		FunctionMetadata: &cftypes.FunctionMetadata{
			FunctionARN: aws.String(functionARN(f.account, fn.name)),
		},
	}
}

func (f *fakeAWS) CreateFunction(_ context.Context, params *cloudfront.CreateFunctionInput, _ ...func(*cloudfront.Options)) (*cloudfront.CreateFunctionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(params.Name)
	if _, ok := f.functions[name]; ok {
		return nil, apiError("FunctionAlreadyExists", "function %s", name)
	}
	f.createFunctionCalls++
	fn := &fakeFunction{
		name:    name,
		comment: aws.ToString(params.FunctionConfig.Comment),
		runtime: string(params.FunctionConfig.Runtime),
		code:    append([]byte(nil), params.FunctionCode...),
		etag:    f.nextID("E"),
	}
	f.functions[name] = fn
	return &cloudfront.CreateFunctionOutput{
		ETag:            aws.String(fn.etag),
		FunctionSummary: f.functionSummary(fn),
	}, nil
}

func (f *fakeAWS) DescribeFunction(_ context.Context, params *cloudfront.DescribeFunctionInput, _ ...func(*cloudfront.Options)) (*cloudfront.DescribeFunctionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn, ok := f.functions[aws.ToString(params.Name)]
	if !ok {
		return nil, apiError("NoSuchFunctionExists", "function %s", aws.ToString(params.Name))
	}
	return &cloudfront.DescribeFunctionOutput{
		ETag:            aws.String(fn.etag),
		FunctionSummary: f.functionSummary(fn),
	}, nil
}

func (f *fakeAWS) UpdateFunction(_ context.Context, params *cloudfront.UpdateFunctionInput, _ ...func(*cloudfront.Options)) (*cloudfront.UpdateFunctionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn, ok := f.functions[aws.ToString(params.Name)]
	if !ok {
		return nil, apiError("NoSuchFunctionExists", "function %s", aws.ToString(params.Name))
	}
	if aws.ToString(params.IfMatch) != fn.etag {
		return nil, apiError("InvalidIfMatchVersion", "etag mismatch")
	}
	f.updateFunctionCalls++
	fn.code = append([]byte(nil), params.FunctionCode...)
	fn.comment = aws.ToString(params.FunctionConfig.Comment)
	fn.runtime = string(params.FunctionConfig.Runtime)
	fn.etag = f.nextID("E")
	return &cloudfront.UpdateFunctionOutput{
		ETag:            aws.String(fn.etag),
		FunctionSummary: f.functionSummary(fn),
	}, nil
}

func (f *fakeAWS) PublishFunction(_ context.Context, params *cloudfront.PublishFunctionInput, _ ...func(*cloudfront.Options)) (*cloudfront.PublishFunctionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn, ok := f.functions[aws.ToString(params.Name)]
	if !ok {
		return nil, apiError("NoSuchFunctionExists", "function %s", aws.ToString(params.Name))
	}
	if aws.ToString(params.IfMatch) != fn.etag {
		return nil, apiError("InvalidIfMatchVersion", "etag mismatch")
	}
	fn.published = true
	return &cloudfront.PublishFunctionOutput{FunctionSummary: f.functionSummary(fn)}, nil
}

func (f *fakeAWS) DeleteFunction(_ context.Context, params *cloudfront.DeleteFunctionInput, _ ...func(*cloudfront.Options)) (*cloudfront.DeleteFunctionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn, ok := f.functions[aws.ToString(params.Name)]
	if !ok {
		return nil, apiError("NoSuchFunctionExists", "function %s", aws.ToString(params.Name))
	}
	if aws.ToString(params.IfMatch) != fn.etag {
		return nil, apiError("InvalidIfMatchVersion", "etag mismatch")
	}
	delete(f.functions, fn.name)
	return &cloudfront.DeleteFunctionOutput{}, nil
}

func (f *fakeAWS) CreateDistribution(_ context.Context, params *cloudfront.CreateDistributionInput, _ ...func(*cloudfront.Options)) (*cloudfront.CreateDistributionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	config := params.DistributionConfig

	certARN := ""
	if config.ViewerCertificate != nil {
		certARN = aws.ToString(config.ViewerCertificate.ACMCertificateArn)
	}
	cert, ok := f.certs[certARN]
	if !ok {
		return nil, apiError("InvalidViewerCertificate", "certificate %s not found", certARN)
	}
	if f.certStatus(cert) != acmtypes.CertificateStatusIssued {
		return nil, apiError("InvalidViewerCertificate", "certificate %s is not issued", certARN)
	}
	for _, origin := range config.Origins.Items {
		oacID := aws.ToString(origin.OriginAccessControlId)
		if _, ok := f.oacs[oacID]; !ok {
			return nil, apiError("NoSuchOriginAccessControl", "origin access control %s", oacID)
		}
	}

	f.createDistributionCalls++
	id := f.nextID("EDIST")
	dist := &fakeDistribution{
		id:            id,
		arn:           "arn:aws:cloudfront::" + f.account + ":distribution/" + id,
		domainName:    strings.ToLower(id) + ".cloudfront.net",
		config:        config,
		etag:          f.nextID("E"),
		remainingGets: 2,
	}
	f.distributions[id] = dist
	return &cloudfront.CreateDistributionOutput{
		Distribution: f.distributionDetail(dist, "InProgress"),
		ETag:         aws.String(dist.etag),
	}, nil
}

func (f *fakeAWS) distributionDetail(dist *fakeDistribution, status string) *cftypes.Distribution {
	return &cftypes.Distribution{
		Id:                 aws.String(dist.id),
		ARN:                aws.String(dist.arn),
		DomainName:         aws.String(dist.domainName),
		Status:             aws.String(status),
		DistributionConfig: dist.config,
	}
}

func (f *fakeAWS) distributionStatus(dist *fakeDistribution) string {
	if f.distributionNeverDeploys {
		return "InProgress"
	}
	if dist.remainingGets > 0 {
		dist.remainingGets--
	}
	if dist.remainingGets > 0 {
		return "InProgress"
	}
	return "Deployed"
}

func (f *fakeAWS) GetDistribution(_ context.Context, params *cloudfront.GetDistributionInput, _ ...func(*cloudfront.Options)) (*cloudfront.GetDistributionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dist, ok := f.distributions[aws.ToString(params.Id)]
	if !ok {
		return nil, apiError("NoSuchDistribution", "distribution %s", aws.ToString(params.Id))
	}
	return &cloudfront.GetDistributionOutput{
		Distribution: f.distributionDetail(dist, f.distributionStatus(dist)),
		ETag:         aws.String(dist.etag),
	}, nil
}

func (f *fakeAWS) GetDistributionConfig(_ context.Context, params *cloudfront.GetDistributionConfigInput, _ ...func(*cloudfront.Options)) (*cloudfront.GetDistributionConfigOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dist, ok := f.distributions[aws.ToString(params.Id)]
	if !ok {
		return nil, apiError("NoSuchDistribution", "distribution %s", aws.ToString(params.Id))
	}
	configCopy := *dist.config
	return &cloudfront.GetDistributionConfigOutput{
		DistributionConfig: &configCopy,
		ETag:               aws.String(dist.etag),
	}, nil
}

func (f *fakeAWS) UpdateDistribution(_ context.Context, params *cloudfront.UpdateDistributionInput, _ ...func(*cloudfront.Options)) (*cloudfront.UpdateDistributionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dist, ok := f.distributions[aws.ToString(params.Id)]
	if !ok {
		return nil, apiError("NoSuchDistribution", "distribution %s", aws.ToString(params.Id))
	}
	if aws.ToString(params.IfMatch) != dist.etag {
		return nil, apiError("PreconditionFailed", "etag mismatch")
	}
	f.updateDistributionCalls++
	dist.config = params.DistributionConfig
	dist.etag = f.nextID("E")
	dist.remainingGets = 2
	return &cloudfront.UpdateDistributionOutput{
		Distribution: f.distributionDetail(dist, "InProgress"),
		ETag:         aws.String(dist.etag),
	}, nil
}

func (f *fakeAWS) DeleteDistribution(_ context.Context, params *cloudfront.DeleteDistributionInput, _ ...func(*cloudfront.Options)) (*cloudfront.DeleteDistributionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dist, ok := f.distributions[aws.ToString(params.Id)]
	if !ok {
		return nil, apiError("NoSuchDistribution", "distribution %s", aws.ToString(params.Id))
	}
	if aws.ToString(params.IfMatch) != dist.etag {
		return nil, apiError("PreconditionFailed", "etag mismatch")
	}
	if aws.ToBool(dist.config.Enabled) {
		return nil, apiError("DistributionNotDisabled", "distribution %s is enabled", dist.id)
	}
	if dist.remainingGets > 0 {
		return nil, apiError("DistributionNotDisabled", "distribution %s is still propagating", dist.id)
	}
	delete(f.distributions, dist.id)
	return &cloudfront.DeleteDistributionOutput{}, nil
}

func (f *fakeAWS) ListDistributions(_ context.Context, _ *cloudfront.ListDistributionsInput, _ ...func(*cloudfront.Options)) (*cloudfront.ListDistributionsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := &cftypes.DistributionList{IsTruncated: aws.Bool(false)}
	ids := make([]string, 0, len(f.distributions))
	for id := range f.distributions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		dist := f.distributions[id]
		list.Items = append(list.Items, cftypes.DistributionSummary{
			Id:         aws.String(dist.id),
			ARN:        aws.String(dist.arn),
			DomainName: aws.String(dist.domainName),
			Aliases:    dist.config.Aliases,
			Enabled:    dist.config.Enabled,
		})
	}
	return &cloudfront.ListDistributionsOutput{DistributionList: list}, nil
}

// --- Route53 ---

func (f *fakeAWS) GetHostedZone(_ context.Context, params *route53.GetHostedZoneInput, _ ...func(*route53.Options)) (*route53.GetHostedZoneOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if aws.ToString(params.Id) != f.zone.id {
		return nil, apiError("NoSuchHostedZone", "zone %s", aws.ToString(params.Id))
	}
	return &route53.GetHostedZoneOutput{
		HostedZone: &r53types.HostedZone{
			Id:   aws.String("/hostedzone/" + f.zone.id),
			Name: aws.String(f.zone.name),
		},
	}, nil
}

func (f *fakeAWS) ChangeResourceRecordSets(_ context.Context, params *route53.ChangeResourceRecordSetsInput, _ ...func(*route53.Options)) (*route53.ChangeResourceRecordSetsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if aws.ToString(params.HostedZoneId) != f.zone.id {
		return nil, apiError("NoSuchHostedZone", "zone %s", aws.ToString(params.HostedZoneId))
	}

	for _, change := range params.ChangeBatch.Changes {
		record := change.ResourceRecordSet
		key := recordKey(aws.ToString(record.Name), string(record.Type))
		switch change.Action {
		case r53types.ChangeActionUpsert, r53types.ChangeActionCreate:
			f.zone.records[key] = *record
		case r53types.ChangeActionDelete:
			if _, ok := f.zone.records[key]; !ok {
				return nil, apiError("InvalidChangeBatch", "record %s not found", key)
			}
			delete(f.zone.records, key)
		}
	}

	changeID := "/change/" + f.nextID("C")
	f.changeGets[changeID] = 0
	return &route53.ChangeResourceRecordSetsOutput{
		ChangeInfo: &r53types.ChangeInfo{
			Id:     aws.String(changeID),
			Status: r53types.ChangeStatusPending,
		},
	}, nil
}

func (f *fakeAWS) GetChange(_ context.Context, params *route53.GetChangeInput, _ ...func(*route53.Options)) (*route53.GetChangeOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := aws.ToString(params.Id)
	f.changeGets[id]++
	status := r53types.ChangeStatusPending
	if f.changeGets[id] > 1 {
		status = r53types.ChangeStatusInsync
	}
	return &route53.GetChangeOutput{
		ChangeInfo: &r53types.ChangeInfo{Id: aws.String(id), Status: status},
	}, nil
}

func (f *fakeAWS) ListResourceRecordSets(_ context.Context, params *route53.ListResourceRecordSetsInput, _ ...func(*route53.Options)) (*route53.ListResourceRecordSetsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if aws.ToString(params.HostedZoneId) != f.zone.id {
		return nil, apiError("NoSuchHostedZone", "zone %s", aws.ToString(params.HostedZoneId))
	}

	keys := make([]string, 0, len(f.zone.records))
	for key := range f.zone.records {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	start := strings.TrimSuffix(strings.ToLower(aws.ToString(params.StartRecordName)), ".") + "."
	limit := int(aws.ToInt32(params.MaxItems))
	if limit <= 0 {
		limit = len(keys)
	}

	out := &route53.ListResourceRecordSetsOutput{}
	for _, key := range keys {
		name := strings.SplitN(key, "|", 2)[0]
		if params.StartRecordName != nil && name < start {
			continue
		}
		out.ResourceRecordSets = append(out.ResourceRecordSets, f.zone.records[key])
		if len(out.ResourceRecordSets) >= limit {
			break
		}
	}
	return out, nil
}

// --- STS ---

func (f *fakeAWS) GetCallerIdentity(_ context.Context, _ *sts.GetCallerIdentityInput, _ ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	return &sts.GetCallerIdentityOutput{Account: aws.String(f.account)}, nil
}

// helpers for assertions

func (f *fakeAWS) record(name, recordType string) (r53types.ResourceRecordSet, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.zone.records[recordKey(name, recordType)]
	return record, ok
}

func (f *fakeAWS) singleDistribution() *fakeDistribution {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, dist := range f.distributions {
		return dist
	}
	return nil
}
