package host

// IterationBudget counts dispatch-loop drains for one key and enforces
// maxIterations.
//
// Effect round-trips that never settle the domain condition would otherwise
// loop forever; the budget turns that into LOOP_MAX_ITERATIONS.
type IterationBudget struct {
	limit   int
	current int
}

// NewIterationBudget creates a budget allowing limit drains.
func NewIterationBudget(limit int) *IterationBudget {
	return &IterationBudget{limit: limit}
}

// Spend records one drain. It returns a loop-bound error when the drain
// would exceed the limit.
func (b *IterationBudget) Spend(intentID string) error {
	if b.current >= b.limit {
		return NewLoopBoundError(intentID, b.current, b.limit)
	}
	b.current++
	return nil
}

// Exhausted reports whether no drains remain.
func (b *IterationBudget) Exhausted() bool {
	return b.current >= b.limit
}

// Current returns the number of drains spent.
func (b *IterationBudget) Current() int {
	return b.current
}

// Limit returns the configured maximum.
func (b *IterationBudget) Limit() int {
	return b.limit
}
