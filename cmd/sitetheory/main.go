// Command sitetheory provisions static single-page-application sites on
// AWS: a private versioned origin bucket fronted by a CloudFront
// distribution, a DNS-validated certificate, and Route53 alias records.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/theory-cloud/tabletheory"
	"github.com/theory-cloud/tabletheory/pkg/session"

	"github.com/theory-cloud/sitetheory"
	"github.com/theory-cloud/sitetheory/pkg/history"
	"github.com/theory-cloud/sitetheory/pkg/logger"
	"github.com/theory-cloud/sitetheory/pkg/observability"
	obszap "github.com/theory-cloud/sitetheory/pkg/observability/zap"
	"github.com/theory-cloud/sitetheory/pkg/provision"
	"github.com/theory-cloud/sitetheory/pkg/siteconfig"
)

const usageText = `usage: sitetheory <command> [flags]

commands:
  validate   check the site configuration without touching AWS
  plan       print the ordered resource plan without touching AWS
  deploy     provision the site end to end
  teardown   destroy the site's resources (origin bucket retained by default)
  history    list recent deploy records for the site

run "sitetheory <command> -h" for the command's flags
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usageText)
		return 2
	}

	ctx := context.Background()

	var err error
	switch cmd := args[0]; cmd {
	case "validate":
		err = runValidate(args[1:], os.Stdout)
	case "plan":
		err = runPlan(args[1:], os.Stdout)
	case "deploy":
		err = runDeploy(ctx, args[1:], os.Stdout)
	case "teardown":
		err = runTeardown(ctx, args[1:], os.Stdout)
	case "history":
		err = runHistory(ctx, args[1:], os.Stdout)
	case "help", "-h", "-help", "--help":
		fmt.Print(usageText)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "sitetheory: unknown command %q\n", cmd)
		fmt.Fprint(os.Stderr, usageText)
		return 2
	}

	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "sitetheory: FAIL: %v\n", err)
		return 1
	}
	return 0
}

func runValidate(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	configPath := fs.String("config", "site.yaml", "path to the site configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := siteconfig.Load(*configPath)
	if err != nil {
		return err
	}
	def, err := cfg.Definition()
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "%s: ok (%d hostnames)\n", def.SiteDomain(), len(def.Hostnames()))
	return nil
}

func runPlan(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("plan", flag.ContinueOnError)
	configPath := fs.String("config", "site.yaml", "path to the site configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := siteconfig.Load(*configPath)
	if err != nil {
		return err
	}
	def, err := cfg.Definition()
	if err != nil {
		return err
	}
	plan, err := def.Plan()
	if err != nil {
		return err
	}

	writePlan(stdout, def, plan)
	return nil
}

func writePlan(w io.Writer, def *sitetheory.Definition, plan []sitetheory.Resource) {
	fmt.Fprintf(w, "plan for %s (%d resources):\n", def.SiteDomain(), len(plan))
	for i, resource := range plan {
		fmt.Fprintf(w, "%3d. %-22s %s\n", i+1, resource.ID(), resource.Kind())
	}
}

func runDeploy(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("deploy", flag.ContinueOnError)
	configPath := fs.String("config", "site.yaml", "path to the site configuration file")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := siteconfig.Load(*configPath)
	if err != nil {
		return err
	}
	def, err := cfg.Definition()
	if err != nil {
		return err
	}

	log, err := newLogger(ctx, *logLevel)
	if err != nil {
		return err
	}
	defer closeLogger(ctx, log)

	engine, err := newEngine(ctx, cfg, log)
	if err != nil {
		return err
	}

	outputs, err := engine.Deploy(ctx, def)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "deployed %s\n", def.SiteDomain())
	fmt.Fprintf(stdout, "  distribution:  %s (%s)\n", outputs.DistributionID, outputs.DistributionDomain)
	fmt.Fprintf(stdout, "  origin bucket: %s\n", outputs.BucketName)
	return nil
}

func runTeardown(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("teardown", flag.ContinueOnError)
	configPath := fs.String("config", "site.yaml", "path to the site configuration file")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn or error")
	yes := fs.Bool("yes", false, "confirm destruction")
	removeOrigin := fs.Bool("remove-origin", false, "also empty and delete the origin bucket")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if !*yes {
		return fmt.Errorf("teardown destroys live infrastructure; re-run with -yes to confirm")
	}

	cfg, err := siteconfig.Load(*configPath)
	if err != nil {
		return err
	}
	def, err := cfg.Definition()
	if err != nil {
		return err
	}

	log, err := newLogger(ctx, *logLevel)
	if err != nil {
		return err
	}
	defer closeLogger(ctx, log)

	engine, err := newEngine(ctx, cfg, log)
	if err != nil {
		return err
	}

	var opts []provision.TeardownOption
	if *removeOrigin {
		opts = append(opts, provision.WithOriginRemoval())
	}
	if err := engine.Teardown(ctx, def, opts...); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "tore down %s\n", def.SiteDomain())
	if !*removeOrigin {
		fmt.Fprintln(stdout, "  origin bucket retained; re-run with -remove-origin to delete it")
	}
	return nil
}

func runHistory(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	configPath := fs.String("config", "site.yaml", "path to the site configuration file")
	limit := fs.Int("limit", 20, "maximum number of records to print")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := siteconfig.Load(*configPath)
	if err != nil {
		return err
	}
	def, err := cfg.Definition()
	if err != nil {
		return err
	}
	if cfg.History.Table == "" {
		return fmt.Errorf("history requires history.table in %s", *configPath)
	}

	store, err := newHistoryStore(cfg)
	if err != nil {
		return err
	}

	records, err := store.List(ctx, &history.Query{Site: def.SiteDomain(), Limit: *limit})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintf(stdout, "no records for %s\n", def.SiteDomain())
		return nil
	}

	for _, record := range records {
		writeRecord(stdout, record)
	}
	return nil
}

func writeRecord(w io.Writer, record *history.Record) {
	fmt.Fprintf(w, "%s  %-8s  %-22s  deploy=%s",
		record.RecordedAt.UTC().Format(time.RFC3339), record.Operation, record.Phase, record.DeployID)
	if record.ErrorCode != "" {
		fmt.Fprintf(w, "  error=%s", record.ErrorCode)
	}
	fmt.Fprintln(w)
}

func newLogger(ctx context.Context, level string) (observability.StructuredLogger, error) {
	factory := obszap.NewZapLoggerFactory(
		obszap.WithEnvironmentErrorNotifications(ctx, obszap.DefaultEnvironmentErrorNotifications()),
	)
	log, err := factory.CreateConsoleLogger(observability.LoggerConfig{Level: level})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	logger.SetLogger(log)
	return log, nil
}

func closeLogger(ctx context.Context, log observability.StructuredLogger) {
	flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_ = log.Flush(flushCtx)
	_ = log.Close()
}

func newEngine(ctx context.Context, cfg *siteconfig.Config, log observability.StructuredLogger) (*provision.Engine, error) {
	clients, err := provision.NewClients(ctx, provision.ClientConfig{Region: cfg.Deploy.Region})
	if err != nil {
		return nil, err
	}

	opts := []provision.Option{provision.WithLogger(log)}
	if cfg.History.Table != "" {
		store, err := newHistoryStore(cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, provision.WithHistory(store))
	}

	return provision.New(clients, opts...)
}

func newHistoryStore(cfg *siteconfig.Config) (history.Store, error) {
	region := cfg.History.Region
	if region == "" {
		region = cfg.Deploy.Region
	}

	sessionCfg := session.Config{
		Region:   region,
		Endpoint: cfg.History.Endpoint,
	}
	if cfg.History.Endpoint != "" {
		// DynamoDB Local requires credentials even though they are not used.
		sessionCfg.AWSConfigOptions = []func(*awsconfig.LoadOptions) error{
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("dummy", "dummy", "")),
		}
	}

	db, err := tabletheory.NewBasic(sessionCfg)
	if err != nil {
		return nil, fmt.Errorf("init history store: %w", err)
	}

	return history.NewDynamoDBStore(db, history.StoreConfig{TableName: cfg.History.Table}), nil
}
