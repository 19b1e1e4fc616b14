package scheduling

import (
	"context"
	"crypto/rand"
	stderrors "errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/kart-io/logger"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kart-io/sentinel-agent/pkg/capabilities"
	"github.com/kart-io/sentinel-agent/pkg/errors"
	infralog "github.com/kart-io/sentinel-agent/pkg/infra/logger"
	"github.com/kart-io/sentinel-agent/pkg/infra/tracing"
	"github.com/kart-io/sentinel-agent/pkg/scheduling/clock"
)

// Source is the source name of deliveries made by a Scheduler.
const Source = "scheduler"

const tracerName = "github.com/kart-io/sentinel-agent/pkg/scheduling"

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithStore makes the scheduler persistent.
func WithStore(store TaskStore) Option {
	return func(s *Scheduler) {
		s.store = store
	}
}

// WithTracer overrides the tracer used for deliveries.
func WithTracer(t trace.Tracer) Option {
	return func(s *Scheduler) {
		s.tracer = t
	}
}

type pendingTask struct {
	task Task
	// seq identifies the trigger armed for this task. A firing with an
	// older seq belongs to a cancelled or re-armed trigger.
	seq uint64
}

// Scheduler schedules tasks for one owner on the shared clock.
type Scheduler struct {
	owner   string
	clock   Clock
	binding *capabilities.Binding
	store   TaskStore
	tracer  trace.Tracer

	mu      sync.Mutex
	pending map[string]*pendingTask
	seq     uint64
	entropy io.Reader
	closed  bool
}

var (
	_ capabilities.Capability = (*Scheduler)(nil)
	_ io.Closer               = (*Scheduler)(nil)
)

// New creates a scheduler for owner. A persistent scheduler re-arms every
// task stored for owner; tasks that became due while nothing was running
// fire immediately.
func New(ctx context.Context, owner string, c Clock, binding *capabilities.Binding, opts ...Option) (*Scheduler, error) {
	if owner == "" {
		return nil, errors.ErrInvalidParam.WithMessage("scheduler owner is required")
	}
	if c == nil || binding == nil {
		return nil, errors.ErrInvalidParam.WithMessage("scheduler clock and binding are required")
	}

	s := &Scheduler{
		owner:   owner,
		clock:   c,
		binding: binding,
		pending: make(map[string]*pendingTask),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}

	if s.store != nil {
		if err := s.load(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) load(ctx context.Context) error {
	tasks, err := s.store.List(ctx, s.owner)
	if err != nil {
		return errors.ErrStore.WithCause(err)
	}

	now := s.clock.Now()
	missed := 0
	for _, t := range tasks {
		if !t.Due.After(now) {
			missed++
		}
		if err := s.arm(t); err != nil {
			return err
		}
	}
	if len(tasks) > 0 {
		logger.Infow("Scheduled tasks restored",
			"owner", s.owner, "tasks", len(tasks), "missed", missed)
	}
	return nil
}

// Owner returns the key the tasks are scheduled for.
func (s *Scheduler) Owner() string {
	return s.owner
}

// Binding returns the binding deliveries go through.
func (s *Scheduler) Binding() *capabilities.Binding {
	return s.binding
}

// Persistent reports whether tasks survive a restart.
func (s *Scheduler) Persistent() bool {
	return s.store != nil
}

// Now returns the clock's current time.
func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// CreateTask schedules payload for delivery at due and returns the task id.
func (s *Scheduler) CreateTask(ctx context.Context, payload []byte, due time.Time) (string, error) {
	if due.IsZero() {
		return "", errors.ErrInvalidTrigger.WithMessage("task due time is required")
	}
	return s.create(ctx, Task{Due: due, Payload: payload})
}

// CreateTaskAfter schedules payload for delivery after delay.
func (s *Scheduler) CreateTaskAfter(ctx context.Context, payload []byte, delay time.Duration) (string, error) {
	return s.CreateTask(ctx, payload, s.clock.Now().Add(delay))
}

// CreateCronTask schedules payload for delivery at every occurrence of the
// five-field cron expression expr, until the task is cancelled.
func (s *Scheduler) CreateCronTask(ctx context.Context, payload []byte, expr string) (string, error) {
	next, err := nextOccurrence(expr, s.clock.Now())
	if err != nil {
		return "", err
	}
	return s.create(ctx, Task{Due: next, Payload: payload, Cron: expr})
}

func (s *Scheduler) create(ctx context.Context, t Task) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", errors.ErrCapabilityClosed
	}
	t.ID = ulid.MustNew(ulid.Timestamp(s.clock.Now()), s.entropy).String()
	s.mu.Unlock()

	t.OwnerKey = s.owner
	if t.Payload != nil {
		t.Payload = append([]byte(nil), t.Payload...)
	}

	if s.store != nil {
		if err := s.store.Save(ctx, t); err != nil {
			return "", errors.ErrStore.WithCause(err)
		}
	}
	if err := s.arm(t); err != nil {
		if s.store != nil {
			s.forget(ctx, t.ID)
		}
		return "", err
	}

	logger.Debugw("Task scheduled", "owner", s.owner, "task_id", t.ID, "due", t.Due, "cron", t.Cron)
	return t.ID, nil
}

// arm records t as pending and requests its trigger.
func (s *Scheduler) arm(t Task) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.ErrCapabilityClosed
	}
	s.seq++
	seq := s.seq
	s.pending[t.ID] = &pendingTask{task: t, seq: seq}
	s.mu.Unlock()

	if err := s.clock.RequestTrigger(s.triggerID(t.ID), t.Due, s.callback(t.ID, seq)); err != nil {
		s.drop(t.ID, seq)
		return err
	}
	return nil
}

func (s *Scheduler) triggerID(id string) string {
	return s.owner + "/" + id
}

func (s *Scheduler) callback(id string, seq uint64) clock.Callback {
	return func() error {
		return s.fire(id, seq)
	}
}

// drop removes id from pending if seq still identifies its trigger.
func (s *Scheduler) drop(id string, seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[id]
	if !ok || p.seq != seq {
		return false
	}
	delete(s.pending, id)
	return true
}

func (s *Scheduler) fire(id string, seq uint64) error {
	s.mu.Lock()
	p, ok := s.pending[id]
	if !ok || p.seq != seq || s.closed {
		s.mu.Unlock()
		return nil
	}
	t := p.task
	if !t.Recurring() {
		delete(s.pending, id)
	}
	s.mu.Unlock()

	ctx, span := s.tracer.Start(context.Background(), "scheduling.Deliver",
		trace.WithAttributes(
			attribute.String("scheduler.owner", s.owner),
			attribute.String("scheduler.task_id", t.ID),
			attribute.Bool("scheduler.recurring", t.Recurring()),
		))
	defer span.End()
	ctx = infralog.ExtractOpenTelemetryFields(infralog.WithTaskID(infralog.WithAgentKey(ctx, s.owner), t.ID))

	err := s.deliver(ctx, t)
	tracing.RecordError(ctx, err)

	if t.Recurring() {
		s.rearm(ctx, t, seq)
	} else if s.store != nil {
		s.forget(ctx, t.ID)
	}
	return err
}

func (s *Scheduler) deliver(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("receiver panicked: %v", r)
		}
	}()
	return s.binding.Deliver(ctx, t.Payload, Source, t.ID)
}

// rearm schedules the next occurrence of the recurring task t.
func (s *Scheduler) rearm(ctx context.Context, t Task, seq uint64) {
	next, err := nextOccurrence(t.Cron, s.clock.Now())
	if err != nil {
		logger.Errorw("Recurring task has no next occurrence",
			"owner", s.owner, "task_id", t.ID, "cron", t.Cron, "error", err)
		if s.drop(t.ID, seq) && s.store != nil {
			s.forget(ctx, t.ID)
		}
		return
	}

	s.mu.Lock()
	p, ok := s.pending[t.ID]
	if !ok || p.seq != seq || s.closed {
		s.mu.Unlock()
		return
	}
	t.Due = next
	s.seq++
	p.task, p.seq = t, s.seq
	seq = s.seq
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.Save(ctx, t); err != nil {
			logger.Errorw("Failed to persist recurring task",
				"owner", s.owner, "task_id", t.ID, "error", err)
		}
		// A cancel racing the save must not leave the record behind.
		if !s.isPending(t.ID) {
			s.forget(ctx, t.ID)
			return
		}
	}

	if err := s.clock.RequestTrigger(s.triggerID(t.ID), next, s.callback(t.ID, seq)); err != nil {
		logger.Errorw("Failed to re-arm recurring task",
			"owner", s.owner, "task_id", t.ID, "error", err)
		s.drop(t.ID, seq)
	}
}

func (s *Scheduler) isPending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[id]
	return ok
}

// forget deletes the stored record of id, logging failures.
func (s *Scheduler) forget(ctx context.Context, id string) {
	if err := s.store.Delete(ctx, s.owner, id); err != nil {
		logger.Errorw("Failed to delete task record", "owner", s.owner, "task_id", id, "error", err)
	}
}

// CancelTask cancels the pending task id. A task whose delivery has
// already started is not interrupted. Cancelling an unknown or already
// fired task is a no-op.
func (s *Scheduler) CancelTask(ctx context.Context, id string) error {
	s.mu.Lock()
	if _, ok := s.pending[id]; !ok {
		s.mu.Unlock()
		logger.Debugw("Task not pending, nothing to cancel", "owner", s.owner, "task_id", id)
		return nil
	}
	delete(s.pending, id)
	s.mu.Unlock()

	s.clock.Cancel(s.triggerID(id))

	if s.store != nil {
		if err := s.store.Delete(ctx, s.owner, id); err != nil {
			return errors.ErrStore.WithCause(err)
		}
	}
	logger.Debugw("Task cancelled", "owner", s.owner, "task_id", id)
	return nil
}

// Clear cancels every pending task of this scheduler. Other owners'
// triggers on the shared clock are untouched.
func (s *Scheduler) Clear(ctx context.Context) error {
	ids := s.takeAll()
	for _, id := range ids {
		s.clock.Cancel(s.triggerID(id))
	}
	if s.store == nil {
		return nil
	}

	var errs []error
	for _, id := range ids {
		if err := s.store.Delete(ctx, s.owner, id); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.ErrStore.WithCause(stderrors.Join(errs...))
	}
	return nil
}

func (s *Scheduler) takeAll() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	s.pending = make(map[string]*pendingTask)
	return ids
}

// Tasks returns the pending tasks ordered by due time.
func (s *Scheduler) Tasks() []Task {
	s.mu.Lock()
	tasks := make([]Task, 0, len(s.pending))
	for _, p := range s.pending {
		tasks = append(tasks, p.task)
	}
	s.mu.Unlock()

	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].Due.Equal(tasks[j].Due) {
			return tasks[i].Due.Before(tasks[j].Due)
		}
		return tasks[i].ID < tasks[j].ID
	})
	return tasks
}

// Close disarms every pending task and closes the binding. Stored task
// records are kept so a persistent scheduler built later for the same
// owner picks them up.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	for _, id := range s.takeAll() {
		s.clock.Cancel(s.triggerID(id))
	}
	s.binding.Close()
	return nil
}

func nextOccurrence(expr string, from time.Time) (time.Time, error) {
	if !gronx.IsValid(expr) {
		return time.Time{}, errors.ErrInvalidCron.WithMessagef("invalid cron expression %q", expr)
	}
	next, err := gronx.NextTickAfter(expr, from, false)
	if err != nil {
		return time.Time{}, errors.ErrInvalidCron.WithCause(err)
	}
	return next, nil
}
