// Command sitetheory-cdk synthesizes the site as a CloudFormation stack
// through the AWS CDK. It reads the same configuration file as the
// sitetheory CLI, so one site.yaml drives either provisioning path.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/jsii-runtime-go"

	"github.com/theory-cloud/sitetheory"
	"github.com/theory-cloud/sitetheory/pkg/naming"
	"github.com/theory-cloud/sitetheory/pkg/siteconfig"
	"github.com/theory-cloud/sitetheory/pkg/stack"
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	var stackName string

	flag.StringVar(&configPath, "config", "site.yaml", "path to the site configuration file")
	flag.StringVar(&stackName, "stack-name", "", "CloudFormation stack name (default derived from the site domain)")
	flag.Parse()

	def, err := loadDefinition(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sitetheory-cdk: FAIL: %v\n", err)
		return 2
	}

	if stackName == "" {
		stackName = stackNameFor(def)
	}

	defer jsii.Close()

	app := awscdk.NewApp(nil)
	if _, err := stack.NewSpaSiteStack(app, stackName, def, environmentFromProcess()); err != nil {
		fmt.Fprintf(os.Stderr, "sitetheory-cdk: FAIL: %v\n", err)
		return 2
	}

	app.Synth(nil)
	return 0
}

func loadDefinition(path string) (*sitetheory.Definition, error) {
	cfg, err := siteconfig.Load(path)
	if err != nil {
		return nil, err
	}
	return cfg.Definition()
}

// environmentFromProcess pins the stack to us-east-1, where the certificate
// and the CloudFront function must live, and takes the account from the
// variables the CDK CLI resolves for the active credentials.
func environmentFromProcess() *awscdk.Environment {
	env := &awscdk.Environment{Region: jsii.String("us-east-1")}
	if account := os.Getenv("CDK_DEFAULT_ACCOUNT"); account != "" {
		env.Account = jsii.String(account)
	}
	return env
}

func stackNameFor(def *sitetheory.Definition) string {
	return "sitetheory-" + naming.SiteSlug(def.SiteDomain())
}
