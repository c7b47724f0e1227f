package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	defaultPollInterval = 3 * time.Second
	defaultPollTimeout  = 5 * time.Minute
)

// ErrClosed is returned by Trigger and Wait after Close.
var ErrClosed = eris.New("analysis: orchestrator closed")

// Option configures an Orchestrator.
type Option func(*options)

type options struct {
	interval    time.Duration
	timeout     time.Duration
	maxAttempts int
	ttls        map[Type]time.Duration
	clock       Clock
	notifier    Notifier
	observer    Observer
}

// WithPollInterval sets the fixed delay between polls.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithPollTimeout bounds the wall-clock lifetime of a poll task.
func WithPollTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithMaxAttempts bounds the number of polls per task. Zero means only the
// timeout applies.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxAttempts = n
		}
	}
}

// WithTTL sets the freshness window for one artifact type.
func WithTTL(t Type, d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.ttls[t] = d
		}
	}
}

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithNotifier sets the completion notifier. Defaults to LogNotifier.
func WithNotifier(n Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithObserver reports state transitions, e.g. to metrics.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

type transition struct {
	t        Type
	from, to State
}

type opportunity struct {
	cycle     uint64
	notified  uint64
	artifacts map[Type]Artifact

	// task is the poll task currently owning the processing artifacts.
	task   *pollTask
	change chan struct{}
}

type pollTask struct {
	cycle  uint64
	cancel context.CancelFunc
}

// Orchestrator runs the per-opportunity artifact state machine. All state
// lives behind one mutex; provider calls and notifications happen outside it.
type Orchestrator struct {
	provider Provider
	opts     options

	mu     sync.Mutex
	opps   map[string]*opportunity
	closed bool
	wg     sync.WaitGroup
}

// New creates an Orchestrator backed by provider.
func New(provider Provider, opts ...Option) *Orchestrator {
	o := options{
		interval: defaultPollInterval,
		timeout:  defaultPollTimeout,
		ttls:     DefaultTTLs(),
		clock:    systemClock{},
		notifier: LogNotifier{},
	}
	for _, fn := range opts {
		fn(&o)
	}
	return &Orchestrator{
		provider: provider,
		opts:     o,
		opps:     make(map[string]*opportunity),
	}
}

// Trigger requests the given artifacts (all when none are named). Artifacts
// already processing are left alone, so repeating a trigger is a no-op. The
// remaining artifacts enter processing under a new cycle whose poll task
// replaces any earlier one. If the provider rejects the request those
// artifacts fail with FailureRequest and the error is returned.
func (o *Orchestrator) Trigger(ctx context.Context, opportunityID string, types ...Type) error {
	if opportunityID == "" {
		return eris.New("analysis: opportunity id is required")
	}
	if len(types) == 0 {
		types = AllTypes()
	}
	for _, t := range types {
		if !t.Valid() {
			return eris.Errorf("analysis: unknown artifact type %q", t)
		}
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	opp := o.opportunityLocked(opportunityID)

	var requested []Type
	for _, t := range types {
		if opp.artifacts[t].State() == StateProcessing || containsType(requested, t) {
			continue
		}
		requested = append(requested, t)
	}
	if len(requested) == 0 {
		o.mu.Unlock()
		zap.L().Debug("analysis: trigger skipped, already processing",
			zap.String("opportunity_id", opportunityID),
		)
		return nil
	}

	opp.cycle++
	cycle := opp.cycle
	startedAt := o.opts.clock.Now()
	var moved []transition
	for _, t := range requested {
		moved = append(moved, o.setLocked(opportunityID, opp, t, Processing{Cycle: cycle, StartedAt: startedAt}))
	}
	// The new cycle's task takes over every processing artifact.
	if opp.task != nil {
		opp.task.cancel()
		opp.task = nil
	}
	o.mu.Unlock()
	o.observe(opportunityID, moved)

	zap.L().Info("analysis: trigger",
		zap.String("opportunity_id", opportunityID),
		zap.Uint64("cycle", cycle),
		zap.Any("types", requested),
	)

	err := o.provider.Trigger(ctx, opportunityID, requested)

	o.mu.Lock()
	moved = moved[:0]
	if err != nil {
		failedAt := o.opts.clock.Now()
		for _, t := range requested {
			if p, ok := opp.artifacts[t].(Processing); ok && p.Cycle == cycle {
				moved = append(moved, o.setLocked(opportunityID, opp, t, Failed{
					Cycle:    cycle,
					Kind:     FailureRequest,
					Reason:   err.Error(),
					FailedAt: failedAt,
				}))
			}
		}
	}
	// A later trigger that already started its own task owns the polling.
	if opp.cycle == cycle && opp.task == nil && !o.closed && hasProcessing(opp) {
		o.startLocked(opportunityID, opp, cycle)
	}
	o.mu.Unlock()
	o.observe(opportunityID, moved)

	if err != nil {
		return eris.Wrapf(err, "analysis: trigger %s", opportunityID)
	}
	return nil
}

// Status returns a snapshot of every artifact of the opportunity. Unknown
// opportunities report all artifacts pending.
func (o *Orchestrator) Status(opportunityID string) Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked(opportunityID)
}

// Artifact returns the status of one artifact.
func (o *Orchestrator) Artifact(opportunityID string, t Type) (ArtifactStatus, error) {
	if !t.Valid() {
		return ArtifactStatus{}, eris.Errorf("analysis: unknown artifact type %q", t)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	st, _ := o.snapshotLocked(opportunityID).Artifact(t)
	return st, nil
}

// Wait blocks until no artifact of the opportunity is processing.
func (o *Orchestrator) Wait(ctx context.Context, opportunityID string) (Snapshot, error) {
	for {
		o.mu.Lock()
		opp, ok := o.opps[opportunityID]
		if !ok || !hasProcessing(opp) {
			snap := o.snapshotLocked(opportunityID)
			o.mu.Unlock()
			return snap, nil
		}
		if o.closed {
			snap := o.snapshotLocked(opportunityID)
			o.mu.Unlock()
			return snap, ErrClosed
		}
		ch := opp.change
		o.mu.Unlock()

		select {
		case <-ctx.Done():
			return o.Status(opportunityID), eris.Wrapf(ctx.Err(), "analysis: wait %s", opportunityID)
		case <-ch:
		}
	}
}

// Close cancels every poll task and waits for them to exit. Artifacts still
// processing stay processing.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	for _, opp := range o.opps {
		if opp.task != nil {
			opp.task.cancel()
			opp.task = nil
		}
		close(opp.change)
		opp.change = make(chan struct{})
	}
	o.mu.Unlock()
	o.wg.Wait()
}

func (o *Orchestrator) opportunityLocked(id string) *opportunity {
	opp, ok := o.opps[id]
	if !ok {
		opp = &opportunity{
			artifacts: make(map[Type]Artifact, 3),
			change:    make(chan struct{}),
		}
		for _, t := range AllTypes() {
			opp.artifacts[t] = Pending{}
		}
		o.opps[id] = opp
	}
	return opp
}

// setLocked is the only place artifact state changes.
func (o *Orchestrator) setLocked(oppID string, opp *opportunity, t Type, a Artifact) transition {
	from := opp.artifacts[t].State()
	opp.artifacts[t] = a
	close(opp.change)
	opp.change = make(chan struct{})
	zap.L().Debug("analysis: transition",
		zap.String("opportunity_id", oppID),
		zap.String("type", string(t)),
		zap.String("from", string(from)),
		zap.String("to", string(a.State())),
	)
	return transition{t: t, from: from, to: a.State()}
}

func (o *Orchestrator) observe(oppID string, moved []transition) {
	if o.opts.observer == nil {
		return
	}
	for _, m := range moved {
		o.opts.observer.ObserveTransition(oppID, m.t, m.from, m.to)
	}
}

func (o *Orchestrator) snapshotLocked(oppID string) Snapshot {
	snap := Snapshot{OpportunityID: oppID, Complete: true}
	opp, ok := o.opps[oppID]
	now := o.opts.clock.Now()
	for _, t := range AllTypes() {
		var a Artifact = Pending{}
		if ok {
			a = opp.artifacts[t]
		}
		st := statusOf(t, a, now, o.opts.ttls[t])
		if st.State != StateCompleted {
			snap.Complete = false
		}
		snap.Artifacts = append(snap.Artifacts, st)
	}
	if ok {
		snap.Cycle = opp.cycle
		snap.Polling = opp.task != nil
	}
	return snap
}

func (o *Orchestrator) startLocked(oppID string, opp *opportunity, cycle uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), o.opts.timeout)
	task := &pollTask{cycle: cycle, cancel: cancel}
	opp.task = task
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		o.poll(ctx, oppID, task)
	}()
}

// poll runs one task: a fixed-interval loop bounded by the attempt budget and
// by each artifact's own window, measured from when that artifact started
// processing. Taking over from an earlier task never extends an artifact's
// window. The loop ends as soon as nothing is processing.
func (o *Orchestrator) poll(ctx context.Context, oppID string, task *pollTask) {
	log := zap.L().With(zap.String("opportunity_id", oppID), zap.Uint64("cycle", task.cycle))

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				o.exhaust(oppID, task, attempt-1, true)
			}
			return
		case <-o.opts.clock.After(o.opts.interval):
		}

		since, ok := o.processing(oppID, task)
		if !ok {
			return
		}

		payloads, err := o.provider.Poll(ctx, oppID, since)
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return
		}
		if err != nil {
			log.Warn("analysis: poll failed", zap.Int("attempt", attempt), zap.Error(err))
		} else if !o.ingest(ctx, oppID, task, payloads) {
			log.Debug("analysis: poll task done", zap.Int("attempts", attempt))
			return
		}

		budgetSpent := o.opts.maxAttempts > 0 && attempt >= o.opts.maxAttempts
		if !o.exhaust(oppID, task, attempt, budgetSpent || ctx.Err() != nil) {
			return
		}
	}
}

// processing returns the poll cursor for each processing artifact, or false
// if the task no longer owns the opportunity or nothing is processing.
func (o *Orchestrator) processing(oppID string, task *pollTask) (map[Type]time.Time, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	opp := o.opps[oppID]
	if opp == nil || opp.task != task {
		return nil, false
	}
	since := make(map[Type]time.Time)
	for t, a := range opp.artifacts {
		if p, ok := a.(Processing); ok {
			since[t] = p.StartedAt
		}
	}
	if len(since) == 0 {
		opp.task = nil
		return nil, false
	}
	return since, true
}

// ingest completes every processing artifact that has a payload. It reports
// whether anything is still processing.
func (o *Orchestrator) ingest(ctx context.Context, oppID string, task *pollTask, payloads map[Type]json.RawMessage) bool {
	o.mu.Lock()
	opp := o.opps[oppID]
	if opp == nil || opp.task != task {
		o.mu.Unlock()
		return false
	}

	now := o.opts.clock.Now()
	var moved []transition
	for t, data := range payloads {
		if !t.Valid() || isNull(data) {
			continue
		}
		p, ok := opp.artifacts[t].(Processing)
		if !ok {
			continue
		}
		payload := append(json.RawMessage(nil), data...)
		moved = append(moved, o.setLocked(oppID, opp, t, Completed{Cycle: p.Cycle, Data: payload, CachedAt: now}))
	}

	completion, notify := o.completionLocked(oppID, opp, now)
	more := hasProcessing(opp)
	if !more {
		opp.task = nil
	}
	o.mu.Unlock()

	o.observe(oppID, moved)
	if notify {
		if err := o.opts.notifier.AnalysisComplete(context.WithoutCancel(ctx), completion); err != nil {
			zap.L().Warn("analysis: completion notification failed",
				zap.String("opportunity_id", oppID),
				zap.Error(err),
			)
		}
	}
	return more
}

// completionLocked fires at most once per cycle, when every artifact holds a
// completed payload.
func (o *Orchestrator) completionLocked(oppID string, opp *opportunity, now time.Time) (Completion, bool) {
	if opp.notified >= opp.cycle {
		return Completion{}, false
	}
	artifacts := make(map[Type]json.RawMessage, len(opp.artifacts))
	for t, a := range opp.artifacts {
		c, ok := a.(Completed)
		if !ok {
			return Completion{}, false
		}
		artifacts[t] = c.Data
	}
	opp.notified = opp.cycle
	return Completion{
		OpportunityID: oppID,
		Cycle:         opp.cycle,
		CompletedAt:   now,
		Artifacts:     artifacts,
	}, true
}

// exhaust fails the processing artifacts whose window has closed, or all of
// them when all is set. It reports whether the task still has work.
func (o *Orchestrator) exhaust(oppID string, task *pollTask, attempts int, all bool) bool {
	o.mu.Lock()
	opp := o.opps[oppID]
	if opp == nil || opp.task != task {
		o.mu.Unlock()
		return false
	}
	now := o.opts.clock.Now()
	reason := fmt.Sprintf("no result after %d polls within %s", attempts, o.opts.timeout)
	var moved []transition
	for _, t := range AllTypes() {
		if p, ok := opp.artifacts[t].(Processing); ok {
			if !all && now.Before(p.StartedAt.Add(o.opts.timeout)) {
				continue
			}
			moved = append(moved, o.setLocked(oppID, opp, t, Failed{
				Cycle:    p.Cycle,
				Kind:     FailureExhausted,
				Reason:   reason,
				FailedAt: now,
			}))
		}
	}
	more := hasProcessing(opp)
	if !more {
		opp.task = nil
	}
	o.mu.Unlock()

	o.observe(oppID, moved)
	if len(moved) > 0 {
		zap.L().Warn("analysis: polling exhausted",
			zap.String("opportunity_id", oppID),
			zap.Int("attempts", attempts),
			zap.Int("failed", len(moved)),
		)
	}
	return more
}

func hasProcessing(opp *opportunity) bool {
	for _, a := range opp.artifacts {
		if a.State() == StateProcessing {
			return true
		}
	}
	return false
}

func containsType(types []Type, t Type) bool {
	for _, v := range types {
		if v == t {
			return true
		}
	}
	return false
}

func isNull(data json.RawMessage) bool {
	data = bytes.TrimSpace(data)
	return len(data) == 0 || string(data) == "null"
}
