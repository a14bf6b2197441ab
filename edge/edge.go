// Package edge applies the viewer-request rewrite as a Lambda@Edge handler,
// for distributions that need Lambda@Edge instead of a CloudFront Function
// (the provisioning paths attach the CloudFront Function by default; this
// bridge exists for stacks composing extra viewer-request logic).
//
// The event types mirror the Lambda@Edge viewer-request JSON contract, which
// github.com/aws/aws-lambda-go/events does not ship.
package edge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/theory-cloud/sitetheory"
)

// Event is the envelope Lambda@Edge delivers. Viewer-request events carry
// exactly one record.
type Event struct {
	Records []RecordWrapper `json:"Records"`
}

type RecordWrapper struct {
	CF Record `json:"cf"`
}

type Record struct {
	Config  Config  `json:"config"`
	Request Request `json:"request"`
}

// Config identifies the distribution and trigger stage.
type Config struct {
	DistributionDomainName string `json:"distributionDomainName"`
	DistributionID         string `json:"distributionId"`
	EventType              string `json:"eventType"`
	RequestID              string `json:"requestId"`
}

// Request is the viewer request. Returning it (mutated or not) from the
// handler tells CloudFront to continue processing with that request. Fields
// this package does not touch round-trip unmodified.
type Request struct {
	ClientIP    string              `json:"clientIp,omitempty"`
	Method      string              `json:"method"`
	QueryString string              `json:"querystring,omitempty"`
	URI         string              `json:"uri"`
	Headers     map[string][]Header `json:"headers,omitempty"`
	Origin      json.RawMessage     `json:"origin,omitempty"`
	Body        json.RawMessage     `json:"body,omitempty"`
}

type Header struct {
	Key   string `json:"key,omitempty"`
	Value string `json:"value"`
}

// Handler rewrites extensionless request paths to the root object so
// client-side routes resolve, and passes asset requests through untouched.
func Handler(_ context.Context, event Event) (Request, error) {
	if len(event.Records) == 0 {
		return Request{}, fmt.Errorf("edge: event carries no records")
	}

	request := event.Records[0].CF.Request
	request.URI = sitetheory.RewriteURI(request.URI)
	return request, nil
}

// Start hands the handler to the Lambda runtime. Call it from a main package
// deployed as the distribution's viewer-request trigger.
func Start() {
	lambda.Start(Handler)
}
