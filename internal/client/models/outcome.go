package models

import "fmt"

// Outcome is the tri-part result of a batch operation.
type Outcome struct {
	Succeeded int
	Skipped   int
	Failed    int
	Failures  []ItemFailure
}

type ItemFailure struct {
	ID     string
	Reason string
}

func (o *Outcome) Succeed() { o.Succeeded++ }
func (o *Outcome) Skip()    { o.Skipped++ }

func (o *Outcome) Fail(id string, err error) {
	o.Failed++
	o.Failures = append(o.Failures, ItemFailure{ID: id, Reason: err.Error()})
}

func (o *Outcome) Merge(other Outcome) {
	o.Succeeded += other.Succeeded
	o.Skipped += other.Skipped
	o.Failed += other.Failed
	o.Failures = append(o.Failures, other.Failures...)
}

func (o Outcome) Total() int { return o.Succeeded + o.Skipped + o.Failed }

func (o Outcome) String() string {
	return fmt.Sprintf("succeeded=%d, skipped=%d, failed=%d", o.Succeeded, o.Skipped, o.Failed)
}
