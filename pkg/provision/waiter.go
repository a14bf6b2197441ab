package provision

import (
	"context"
	"fmt"
	"time"

	"github.com/theory-cloud/sitetheory"
)

// WaitConfig bounds the polling the engine does while AWS converges. The
// defaults track how long each control plane realistically takes: DNS-validated
// certificates and distribution propagation are slow, record changes are not.
type WaitConfig struct {
	PollInterval        time.Duration
	CertificateTimeout  time.Duration
	DistributionTimeout time.Duration
	ChangeTimeout       time.Duration
}

// DefaultWaitConfig returns the stock polling budget.
func DefaultWaitConfig() WaitConfig {
	return WaitConfig{
		PollInterval:        15 * time.Second,
		CertificateTimeout:  30 * time.Minute,
		DistributionTimeout: 40 * time.Minute,
		ChangeTimeout:       5 * time.Minute,
	}
}

func (w WaitConfig) withDefaults() WaitConfig {
	defaults := DefaultWaitConfig()
	if w.PollInterval <= 0 {
		w.PollInterval = defaults.PollInterval
	}
	if w.CertificateTimeout <= 0 {
		w.CertificateTimeout = defaults.CertificateTimeout
	}
	if w.DistributionTimeout <= 0 {
		w.DistributionTimeout = defaults.DistributionTimeout
	}
	if w.ChangeTimeout <= 0 {
		w.ChangeTimeout = defaults.ChangeTimeout
	}
	return w
}

// poll drives probe until it reports done, the budget runs out, or ctx is
// cancelled. The first probe fires immediately. A probe error halts the wait;
// nothing is retried past it.
func (e *Engine) poll(ctx context.Context, resource string, timeout time.Duration, probe func(context.Context) (bool, error)) error {
	deadline := e.clock.Now().Add(timeout)
	for {
		done, err := probe(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if !e.clock.Now().Add(e.wait.PollInterval).Before(deadline) {
			return &sitetheory.DeployError{
				Code:     sitetheory.ErrorCodeWaitTimeout,
				Resource: resource,
				Message:  fmt.Sprintf("not ready after %s", timeout),
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.wait.PollInterval):
		}
	}
}
