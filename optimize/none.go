package optimize

// None is an optimizer which computes initial value and exits.
type None struct {
	BaseOptimizer
}

// NewNone creates an optimizer which computes initial likelihood only.
func NewNone() *None {
	return &None{BaseOptimizer: BaseOptimizer{name: "none"}}
}

// Run computes the likelihood at the current parameters.
func (n *None) Run(iterations int) error {
	n.record(n.Likelihood())
	n.PrintHeader()
	n.PrintLine()
	n.saveCheckpoint(true)
	return nil
}
