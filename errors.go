package sitetheory

import (
	"errors"
	"fmt"
)

// DeployError is a portable error with a stable code, suitable for surfacing
// to the operator driving a deploy.
type DeployError struct {
	Code     string
	Message  string
	Resource string
}

func (e *DeployError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Resource, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

const (
	ErrorCodeInvalidParameter = "site.invalid_parameter"
	ErrorCodeInvalidResource  = "site.invalid_resource"
	ErrorCodeGraphCycle       = "site.graph_cycle"
	ErrorCodeUnknownZone      = "site.unknown_hosted_zone"
	ErrorCodePhaseConflict    = "site.phase_conflict"
	ErrorCodeWaitTimeout      = "site.wait_timeout"
	ErrorCodeProvision        = "site.provision_failed"
)

func invalidParameter(format string, args ...any) *DeployError {
	return &DeployError{Code: ErrorCodeInvalidParameter, Message: fmt.Sprintf(format, args...)}
}

func invalidResource(resource, format string, args ...any) *DeployError {
	return &DeployError{Code: ErrorCodeInvalidResource, Resource: resource, Message: fmt.Sprintf(format, args...)}
}

// ErrorCode extracts the stable code from an error chain, or "" when the error
// did not originate from SiteTheory.
func ErrorCode(err error) string {
	var deployErr *DeployError
	if errors.As(err, &deployErr) {
		return deployErr.Code
	}
	return ""
}
