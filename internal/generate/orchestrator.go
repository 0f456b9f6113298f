package generate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"arduinohub/pkg/models"
)

const DefaultTimeout = 60 * time.Second

var (
	ErrUnknownSection = errors.New("unknown section")
	ErrClosed         = errors.New("orchestrator closed")
)

// ProjectSource supplies the current inputs for prompt construction. It is
// read each time a task starts, so regeneration sees the latest edits.
type ProjectSource interface {
	Components() []models.DetectedComponent
	Description() string
}

// Notifier receives every task state change. Publish is called with the
// orchestrator lock held: it must not block for long or call back into the
// Orchestrator.
type Notifier interface {
	Publish(ev models.TaskEvent)
}

type NotifierFunc func(ev models.TaskEvent)

func (f NotifierFunc) Publish(ev models.TaskEvent) { f(ev) }

// Failure is the error for a section whose task ended in the failed state.
type Failure struct {
	Section models.Section
	Message string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("generate %s: %s", f.Section, f.Message)
}

type Options struct {
	SessionID string
	Timeout   time.Duration
	// Estimator builds a fresh estimator per attempt. Nil uses DefaultEstimator.
	Estimator func() ProgressEstimator
	Notifier  Notifier
}

// Orchestrator runs the code, principles and guide tasks. Each section is an
// isolated failure domain with exactly one state slot; a new attempt for a
// section cancels the previous one and any late result from it is dropped.
type Orchestrator struct {
	gen          Generator
	project      ProjectSource
	sessionID    string
	timeout      time.Duration
	newEstimator func() ProgressEstimator
	notifier     Notifier

	baseCtx context.Context
	stop    context.CancelFunc

	mu     sync.Mutex
	closed bool
	seq    uint64
	slots  map[models.Section]*slot
}

type slot struct {
	state   models.TaskState
	attempt uint64
	seq     uint64
	cancel  context.CancelFunc
}

func New(gen Generator, project ProjectSource, opts Options) *Orchestrator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Estimator == nil {
		opts.Estimator = DefaultEstimator
	}

	ctx, stop := context.WithCancel(context.Background())
	o := &Orchestrator{
		gen:          gen,
		project:      project,
		sessionID:    opts.SessionID,
		timeout:      opts.Timeout,
		newEstimator: opts.Estimator,
		notifier:     opts.Notifier,
		baseCtx:      ctx,
		stop:         stop,
		slots:        make(map[models.Section]*slot, len(models.Sections)),
	}
	for _, s := range models.Sections {
		o.slots[s] = &slot{state: models.TaskState{Section: s, Status: models.StatusIdle}}
	}
	return o
}

// RunAll starts every section and waits until all three have settled or ctx
// is done. Partial success is normal; the returned error joins one *Failure
// per failed section.
func (o *Orchestrator) RunAll(ctx context.Context) error {
	dones := make([]<-chan struct{}, 0, len(models.Sections))
	for _, s := range models.Sections {
		done, err := o.Start(s)
		if err != nil {
			return err
		}
		dones = append(dones, done)
	}
	for _, done := range dones {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var errs []error
	for _, s := range models.Sections {
		if err := o.failure(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Regenerate restarts one section from the current project inputs and waits
// for it. The other sections are not touched.
func (o *Orchestrator) Regenerate(ctx context.Context, section models.Section) error {
	done, err := o.Start(section)
	if err != nil {
		return err
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return o.failure(section)
}

// Start launches a new attempt for section without waiting. The returned
// channel is closed when that attempt settles or is superseded.
func (o *Orchestrator) Start(section models.Section) (<-chan struct{}, error) {
	sl, ok := o.slots[section]
	if !ok {
		return nil, fmt.Errorf("start %q: %w", section, ErrUnknownSection)
	}
	prompt := BuildPrompts(o.project.Components(), o.project.Description()).For(section)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrClosed
	}
	if sl.cancel != nil {
		sl.cancel()
	}
	sl.attempt++
	ctx, cancel := context.WithTimeout(o.baseCtx, o.timeout)
	sl.cancel = cancel
	sl.state = models.TaskState{Section: section, Status: models.StatusRunning}
	o.publishLocked(sl)

	done := make(chan struct{})
	go o.run(ctx, cancel, section, sl.attempt, prompt, done)
	log.Printf("[generate] session=%s section=%s attempt=%d started", o.sessionID, section, sl.attempt)
	return done, nil
}

// States returns every section's state in display order.
func (o *Orchestrator) States() []models.TaskState {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]models.TaskState, 0, len(models.Sections))
	for _, s := range models.Sections {
		out = append(out, o.slots[s].state)
	}
	return out
}

// Events renders the current states as the events a subscriber would have
// seen last, attempt numbers included.
func (o *Orchestrator) Events() []models.TaskEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]models.TaskEvent, 0, len(models.Sections))
	for _, s := range models.Sections {
		out = append(out, o.eventLocked(o.slots[s]))
	}
	return out
}

func (o *Orchestrator) State(section models.Section) (models.TaskState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	sl, ok := o.slots[section]
	if !ok {
		return models.TaskState{}, false
	}
	return sl.state, true
}

// Busy reports whether any section is running.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, sl := range o.slots {
		if sl.state.Status == models.StatusRunning {
			return true
		}
	}
	return false
}

// Close cancels every in-flight attempt. Further Starts fail with ErrClosed.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.stop()
}

type outcome struct {
	text string
	err  error
	// deadline is set when the attempt's timeout fired before any result.
	deadline bool
}

func (o *Orchestrator) run(ctx context.Context, cancel context.CancelFunc, section models.Section, attempt uint64, prompt string, done chan struct{}) {
	defer close(done)
	defer cancel()

	est := o.newEstimator()
	var tick <-chan time.Time
	if iv := est.Interval(); iv > 0 {
		t := time.NewTicker(iv)
		defer t.Stop()
		tick = t.C
	}

	results := make(chan outcome, 1)
	go func() {
		text, err := o.gen.Generate(ctx, prompt)
		results <- outcome{text: text, err: err}
	}()

	for {
		select {
		case <-tick:
			o.update(section, attempt, func(st *models.TaskState) bool {
				next := min(est.Next(st.Progress), 99)
				if next <= st.Progress {
					return false
				}
				st.Progress = next
				return true
			})
		case res := <-results:
			o.settle(ctx, section, attempt, res)
			return
		case <-ctx.Done():
			o.settle(ctx, section, attempt, outcome{err: ctx.Err(), deadline: errors.Is(ctx.Err(), context.DeadlineExceeded)})
			return
		}
	}
}

// settle records the attempt's result. A result that arrived before the
// deadline counts even if the deadline has passed since.
func (o *Orchestrator) settle(ctx context.Context, section models.Section, attempt uint64, res outcome) {
	var reason string
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		// superseded by a newer attempt or the orchestrator was closed
		log.Printf("[generate] session=%s section=%s attempt=%d discarded", o.sessionID, section, attempt)
		return
	case res.deadline || errors.Is(res.err, context.DeadlineExceeded):
		reason = fmt.Sprintf("request timed out after %s", o.timeout)
	case res.err != nil:
		reason = res.err.Error()
	case strings.TrimSpace(res.text) == "":
		reason = "no valid content in response"
	}

	o.update(section, attempt, func(st *models.TaskState) bool {
		if reason != "" {
			*st = models.TaskState{
				Section: section,
				Status:  models.StatusFailed,
				Error:   fmt.Sprintf("Error: %s. Click regenerate to try again.", reason),
			}
			return true
		}
		*st = models.TaskState{
			Section:  section,
			Status:   models.StatusSucceeded,
			Progress: 100,
			Content:  res.text,
		}
		return true
	})

	if reason != "" {
		log.Printf("[generate] session=%s section=%s attempt=%d failed: %s", o.sessionID, section, attempt, reason)
	} else {
		log.Printf("[generate] session=%s section=%s attempt=%d succeeded (%d bytes)", o.sessionID, section, attempt, len(res.text))
	}
}

// update applies fn to the section's state only if attempt is still current.
func (o *Orchestrator) update(section models.Section, attempt uint64, fn func(*models.TaskState) bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	sl := o.slots[section]
	if sl.attempt != attempt {
		return
	}
	if fn(&sl.state) {
		o.publishLocked(sl)
	}
}

func (o *Orchestrator) publishLocked(sl *slot) {
	o.seq++
	sl.seq = o.seq
	if o.notifier == nil {
		return
	}
	o.notifier.Publish(o.eventLocked(sl))
}

func (o *Orchestrator) eventLocked(sl *slot) models.TaskEvent {
	return models.TaskEvent{
		Type:      "task.update",
		SessionID: o.sessionID,
		Attempt:   sl.attempt,
		Seq:       sl.seq,
		State:     sl.state,
	}
}

func (o *Orchestrator) failure(section models.Section) error {
	st, ok := o.State(section)
	if !ok || st.Status != models.StatusFailed {
		return nil
	}
	return &Failure{Section: section, Message: st.Error}
}
