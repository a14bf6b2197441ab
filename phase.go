package sitetheory

// Phase tracks how far a site deploy has progressed. Deploys move strictly
// forward; a failure halts the sequence where it stands and the operator
// re-invokes the deploy to resume.
type Phase string

const (
	PhaseAbsent                Phase = "absent"
	PhaseCertificatePending    Phase = "certificate-pending"
	PhaseCertificateIssued     Phase = "certificate-issued"
	PhaseDistributionDeploying Phase = "distribution-deploying"
	PhaseDistributionDeployed  Phase = "distribution-deployed"
	PhaseDNSBound              Phase = "dns-bound"
	PhaseFailed                Phase = "failed"
)

var phaseOrder = []Phase{
	PhaseAbsent,
	PhaseCertificatePending,
	PhaseCertificateIssued,
	PhaseDistributionDeploying,
	PhaseDistributionDeployed,
	PhaseDNSBound,
}

// ParsePhase validates a stored phase value.
func ParsePhase(value string) (Phase, error) {
	p := Phase(value)
	if !p.Valid() {
		return "", invalidParameter("unknown deploy phase %q", value)
	}
	return p, nil
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	if p == PhaseFailed {
		return true
	}
	return p.index() >= 0
}

// Terminal reports whether a deploy in this phase has finished, either
// fully bound or halted by a failure.
func (p Phase) Terminal() bool {
	return p == PhaseDNSBound || p == PhaseFailed
}

// Next returns the phase that follows p in a successful deploy. The second
// return is false when p is terminal or unknown.
func (p Phase) Next() (Phase, bool) {
	i := p.index()
	if i < 0 || i == len(phaseOrder)-1 {
		return "", false
	}
	return phaseOrder[i+1], true
}

// Advance checks a proposed transition. Legal moves are one step forward
// in the deploy sequence, or from any non-terminal phase to PhaseFailed.
// There is no automatic retry: a failed deploy starts again from the top.
func Advance(from, to Phase) error {
	if !from.Valid() {
		return invalidParameter("unknown deploy phase %q", from)
	}
	if !to.Valid() {
		return invalidParameter("unknown deploy phase %q", to)
	}

	if to == PhaseFailed {
		if from.Terminal() {
			return phaseConflict(from, to)
		}
		return nil
	}

	next, ok := from.Next()
	if !ok || next != to {
		return phaseConflict(from, to)
	}
	return nil
}

func phaseConflict(from, to Phase) error {
	return &DeployError{
		Code:    ErrorCodePhaseConflict,
		Message: "cannot move deploy from phase " + string(from) + " to " + string(to),
	}
}

func (p Phase) index() int {
	for i, candidate := range phaseOrder {
		if candidate == p {
			return i
		}
	}
	return -1
}
