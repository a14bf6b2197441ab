package stack

import (
	"fmt"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/jsii-runtime-go"

	"github.com/theory-cloud/sitetheory"
)

// stackRegion is the only region the stack can deploy to: CloudFront accepts
// viewer certificates from us-east-1 alone.
const stackRegion = "us-east-1"

// SpaSiteStack wraps a SpaSite in its own stack, one site per stack.
type SpaSiteStack struct {
	awscdk.Stack
	Site *SpaSite
}

// NewSpaSiteStack builds the stack for one site definition. A nil env (or an
// env without a region) is pinned to us-east-1; any other region is rejected
// up front instead of failing mid-deploy on the certificate.
func NewSpaSiteStack(app awscdk.App, id string, def *sitetheory.Definition, env *awscdk.Environment) (*SpaSiteStack, error) {
	if def == nil {
		return nil, fmt.Errorf("stack: site definition is required")
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	env, err := resolveEnvironment(env)
	if err != nil {
		return nil, err
	}

	stack := awscdk.NewStack(app, jsii.String(id), &awscdk.StackProps{
		Env:         env,
		Description: jsii.String("Single-page application hosting for " + def.SiteDomain()),
	})
	for key, value := range def.Tags {
		awscdk.Tags_Of(stack).Add(jsii.String(key), jsii.String(value), nil)
	}

	site, err := NewSpaSite(stack, jsii.String("Site"), &SpaSiteProps{Definition: def})
	if err != nil {
		return nil, err
	}

	return &SpaSiteStack{Stack: stack, Site: site}, nil
}

func resolveEnvironment(env *awscdk.Environment) (*awscdk.Environment, error) {
	if env == nil {
		return &awscdk.Environment{Region: jsii.String(stackRegion)}, nil
	}
	resolved := *env
	if resolved.Region == nil || *resolved.Region == "" {
		resolved.Region = jsii.String(stackRegion)
		return &resolved, nil
	}
	if *resolved.Region != stackRegion {
		return nil, fmt.Errorf("stack: must deploy to %s for the viewer certificate, got %s", stackRegion, *resolved.Region)
	}
	return &resolved, nil
}
