package engine

// Operation is one in-flight stack operation. Callers must drain Events;
// the channel closes once the stream ends, after which Wait returns the
// terminal outcome.
type Operation struct {
	events chan StackEvent
	result *Result
	err    error
	done   chan struct{}
}

func newOperation() *Operation {
	return &Operation{
		events: make(chan StackEvent, 16),
		done:   make(chan struct{}),
	}
}

// Events yields stack events in arrival order.
func (o *Operation) Events() <-chan StackEvent { return o.events }

// Wait blocks until the operation finishes. Exactly one of the result and
// the error is non-nil: an error means the engine could not follow the
// operation to settlement and never stands in for a fabricated result.
func (o *Operation) Wait() (*Result, error) {
	<-o.done
	return o.result, o.err
}

func (o *Operation) emit(ev StackEvent) {
	o.events <- ev
}

func (o *Operation) finish(res *Result, err error) {
	o.result, o.err = res, err
	close(o.events)
	close(o.done)
}

// Result is the terminal outcome of a stack operation that settled (or, for
// deletes of absent stacks, had nothing to do).
type Result struct {
	StackID           string
	StackName         string
	StackStatus       ResourceStatus
	StackStatusReason string

	// Outputs holds the stack's output values after a successful apply.
	Outputs map[string]string

	// ResourceErrors are the per-resource failure events observed while the
	// operation ran.
	ResourceErrors []StackEvent

	// StackError is the stack-level failure event when the stack settled in
	// an error state, nil otherwise.
	StackError *StackEvent

	// NoChanges marks an apply whose change set contained nothing to do.
	NoChanges bool

	// NotFound marks a delete whose target did not exist.
	NotFound bool
}
