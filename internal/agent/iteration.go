package agent

// IterationController enforces an agent's iteration budget for one
// execution. It is not safe for concurrent use; each Execute call owns one.
type IterationController struct {
	// currentIter is the number of iterations started so far.
	currentIter int
	// maxIter is the budget.
	maxIter int
	// lastErr is the transport failure of the most recent iteration, if any.
	lastErr error
}

// NewIterationController creates a controller allowing maxIter iterations.
// A budget below one is treated as one.
func NewIterationController(maxIter int) *IterationController {
	if maxIter < 1 {
		maxIter = 1
	}
	return &IterationController{maxIter: maxIter}
}

// Next starts another iteration and reports whether the budget allowed it.
func (ic *IterationController) Next() bool {
	if ic.currentIter >= ic.maxIter {
		return false
	}
	ic.currentIter++
	return true
}

// RecordFailure remembers that the current iteration failed in transport.
func (ic *IterationController) RecordFailure(err error) {
	ic.lastErr = err
}

// RecordSuccess clears any remembered transport failure.
func (ic *IterationController) RecordSuccess() {
	ic.lastErr = nil
}

// LastFailure returns the transport failure of the final iteration, or nil.
func (ic *IterationController) LastFailure() error {
	return ic.lastErr
}

// GetIteration returns the current iteration number.
func (ic *IterationController) GetIteration() int {
	return ic.currentIter
}

// IsAtMax returns true if no iterations remain.
func (ic *IterationController) IsAtMax() bool {
	return ic.currentIter >= ic.maxIter
}

// GetMaxIterations returns the budget.
func (ic *IterationController) GetMaxIterations() int {
	return ic.maxIter
}
