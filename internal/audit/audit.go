// Package audit runs the security analysis over decrypted credentials:
// duplicate passwords, duplicate sites, breached passwords and sites that
// offer a second factor. A run is asynchronous; progress is observable as
// an event stream or by polling.
package audit

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dmitrijs2005/vaultkeeper/internal/logging"
)

type Stage int

const (
	StageDuplicatePasswords Stage = iota + 1
	StageDuplicateSites
	StageBreaches
	StageTwoFactor
)

var stageNames = map[Stage]string{
	StageDuplicatePasswords: "duplicate-passwords",
	StageDuplicateSites:     "duplicate-sites",
	StageBreaches:           "breaches",
	StageTwoFactor:          "two-factor",
}

func (s Stage) String() string {
	if n, ok := stageNames[s]; ok {
		return n
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

type State int

const (
	Running State = iota
	Done
	Failed
	Canceled
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Done:
		return "done"
	case Failed:
		return "failed"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Event is one progress update. Progress is overall, 0..100.
type Event struct {
	Stage    Stage
	Progress int
	State    State
	Err      error
}

// Status is the latest event of a run.
type Status = Event

// BreachChecker counts breaches per distinct password.
type BreachChecker interface {
	Counts(ctx context.Context, passwords []string, progress func(done, total int)) (map[string]int, error)
}

type Auditor struct {
	breaches  BreachChecker
	directory *TwoFactorDirectory
	log       logging.Logger
}

func New(breaches BreachChecker, directory *TwoFactorDirectory, log logging.Logger) *Auditor {
	if directory == nil {
		directory = DefaultTwoFactorDirectory()
	}
	return &Auditor{breaches: breaches, directory: directory, log: log}
}

// Run is one analysis in flight.
type Run struct {
	events chan Event
	done   chan struct{}

	mu     sync.Mutex
	status Status
	report Report
}

// Start launches the pipeline over subjects and returns immediately.
func (a *Auditor) Start(ctx context.Context, subjects []Subject) *Run {
	r := &Run{
		events: make(chan Event, 16),
		done:   make(chan struct{}),
		status: Status{Stage: StageDuplicatePasswords, State: Running},
	}
	go a.run(ctx, r, slices.Clone(subjects))
	return r
}

// Events streams progress. Intermediate updates are dropped when the
// reader falls behind; the terminal event is always delivered and the
// channel is then closed.
func (r *Run) Events() <-chan Event { return r.events }

func (r *Run) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Wait blocks until the run ends and returns its report. The report is
// partial when the error is non-nil.
func (r *Run) Wait(ctx context.Context) (*Report, error) {
	select {
	case <-r.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rep := r.report
	return &rep, r.status.Err
}

func (a *Auditor) run(ctx context.Context, r *Run, subjects []Subject) {
	defer close(r.done)
	defer close(r.events)

	stages := []struct {
		stage Stage
		fn    func(ctx context.Context, r *Run, subjects []Subject) error
	}{
		{StageDuplicatePasswords, a.duplicatePasswords},
		{StageDuplicateSites, a.duplicateSites},
		{StageBreaches, a.breachStage},
		{StageTwoFactor, a.twoFactor},
	}

	for i, st := range stages {
		err := ctx.Err()
		if err == nil {
			r.progress(st.stage, i*25)
			err = st.fn(ctx, r, subjects)
		}
		if err != nil {
			state := Failed
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				state = Canceled
			}
			a.log.Warn(ctx, "security audit stopped", "stage", st.stage.String(), "error", err)
			r.finish(st.stage, state, fmt.Errorf("%s: %w", st.stage, err))
			return
		}
		r.mu.Lock()
		r.report.Completed = append(r.report.Completed, st.stage)
		r.mu.Unlock()
	}
	a.log.Info(ctx, "security audit finished", "subjects", len(subjects))
	r.finish(StageTwoFactor, Done, nil)
}

func (a *Auditor) duplicatePasswords(_ context.Context, r *Run, subjects []Subject) error {
	groups, dist := passwordGroups(subjects)
	r.mu.Lock()
	r.report.DuplicatePasswords = groups
	r.report.Strength = dist
	r.mu.Unlock()
	return nil
}

func (a *Auditor) duplicateSites(_ context.Context, r *Run, subjects []Subject) error {
	groups := siteGroups(subjects)
	r.mu.Lock()
	r.report.DuplicateSites = groups
	r.mu.Unlock()
	return nil
}

func (a *Auditor) breachStage(ctx context.Context, r *Run, subjects []Subject) error {
	if a.breaches == nil {
		return nil
	}
	passwords := make([]string, 0, len(subjects))
	for _, s := range subjects {
		passwords = append(passwords, s.Password)
	}
	counts, err := a.breaches.Counts(ctx, passwords, func(done, total int) {
		r.progress(StageBreaches, 50+done*25/max(total, 1))
	})

	// partial counts are kept even when the stage fails
	var breached []Breach
	for _, s := range subjects {
		if n := counts[s.Password]; n > 0 {
			breached = append(breached, Breach{Subject: s, Count: n})
		}
	}
	slices.SortStableFunc(breached, func(x, y Breach) int { return cmp.Compare(y.Count, x.Count) })
	r.mu.Lock()
	r.report.Breached = breached
	r.mu.Unlock()
	return err
}

func (a *Auditor) twoFactor(_ context.Context, r *Run, subjects []Subject) error {
	var findings []TwoFactorFinding
	for _, s := range subjects {
		if s.Website == "" {
			continue
		}
		domain, err := RegistrableDomain(s.Website)
		if err != nil {
			continue
		}
		findings = append(findings, TwoFactorFinding{Subject: s, Domain: domain, Supported: a.directory.Supports(domain)})
	}
	slices.SortStableFunc(findings, func(x, y TwoFactorFinding) int {
		if x.Supported != y.Supported {
			if x.Supported {
				return -1
			}
			return 1
		}
		return cmp.Compare(x.Domain, y.Domain)
	})
	r.mu.Lock()
	r.report.TwoFactor = findings
	r.mu.Unlock()
	return nil
}

func (r *Run) progress(stage Stage, pct int) {
	r.mu.Lock()
	r.status = Status{Stage: stage, Progress: pct, State: Running}
	ev := r.status
	r.mu.Unlock()

	select {
	case r.events <- ev:
	default:
	}
}

func (r *Run) finish(stage Stage, state State, err error) {
	r.mu.Lock()
	if state == Done {
		r.status = Status{Stage: stage, Progress: 100, State: Done}
	} else {
		r.report.Failed = stage
		r.status = Status{Stage: stage, Progress: r.status.Progress, State: state, Err: err}
	}
	r.report.Score = ScoreOf(&r.report)
	ev := r.status
	r.mu.Unlock()

	// make room for the terminal event
	for {
		select {
		case r.events <- ev:
			return
		default:
		}
		select {
		case <-r.events:
		default:
		}
	}
}
