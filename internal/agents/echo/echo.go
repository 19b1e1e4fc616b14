// Package echo is a minimal wakeable agent. It records every message it
// receives and, on request, schedules a reminder to itself on a
// persistent scheduler, so reminders reach it even after it was put to
// sleep.
package echo

import (
	"context"
	"sync"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-agent/pkg/capabilities"
	"github.com/kart-io/sentinel-agent/pkg/capabilities/wake"
	"github.com/kart-io/sentinel-agent/pkg/codec"
	"github.com/kart-io/sentinel-agent/pkg/errors"
	infralog "github.com/kart-io/sentinel-agent/pkg/infra/logger"
	"github.com/kart-io/sentinel-agent/pkg/scheduling"
)

// Kind is the wake kind of echo agents.
const Kind capabilities.Kind = "agent.echo"

// Params are the echo agent's configuration parameters.
type Params struct {
	Greeting string `json:"greeting"`
	// Scheduler is the scheduler kind; persistent by default.
	Scheduler capabilities.Kind `json:"scheduler"`
}

// Message is the payload an echo agent understands.
type Message struct {
	Text string `json:"text"`
	// RemindAfter asks the agent to send Text back to itself after the
	// given duration, e.g. "90s".
	RemindAfter string `json:"remind_after,omitempty"`
	// RemindCron asks for a recurring reminder instead.
	RemindCron string `json:"remind_cron,omitempty"`
}

// Received is a recorded delivery.
type Received struct {
	Text   string
	Source string
	Tag    string
}

// Agent is the echo agent.
type Agent struct {
	factory *capabilities.Factory
	handler func(key string) capabilities.Handler

	key       string
	params    Params
	scheduler *scheduling.Scheduler

	mu       sync.Mutex
	received []Received
}

var (
	_ wake.Wakeable         = (*Agent)(nil)
	_ capabilities.Receiver = (*Agent)(nil)
)

// Constructor returns the wake constructor of echo agents. Schedulers are
// built through f and bound to the wake handler of svc, so a reminder for
// a dormant agent wakes it.
func Constructor(f *capabilities.Factory, svc *wake.Service) wake.Constructor {
	return func() wake.Wakeable {
		return &Agent{factory: f, handler: svc.Handler}
	}
}

// Wake builds or rebinds the agent's scheduler.
func (a *Agent) Wake(ctx context.Context, key string, cfg capabilities.Config, onBoot bool) error {
	var params Params
	if err := cfg.Decode(&params); err != nil {
		return err
	}
	if params.Scheduler == "" {
		params.Scheduler = scheduling.KindPersistent
	}

	s, err := capabilities.BuildAs[*scheduling.Scheduler](ctx, a.factory, capabilities.Config{
		Key:  SchedulerKey(key),
		Kind: params.Scheduler,
	}, a.handler(key))
	if err != nil {
		return err
	}

	a.key, a.params, a.scheduler = key, params, s
	logger.Infow("Echo agent awake", "key", key, "on_boot", onBoot, "pending_tasks", len(s.Tasks()))
	return nil
}

// SchedulerKey is the capability key of the scheduler owned by agent key.
func SchedulerKey(key string) string {
	return key + "/scheduler"
}

// Receive records msg and schedules the reminder it asks for.
func (a *Agent) Receive(ctx context.Context, payload []byte, source, tag string) error {
	var msg Message
	if err := codec.Unmarshal(payload, &msg); err != nil {
		return errors.ErrInvalidParam.WithCause(err)
	}

	a.mu.Lock()
	a.received = append(a.received, Received{Text: msg.Text, Source: source, Tag: tag})
	a.mu.Unlock()

	infralog.GetLogger(infralog.WithAgentKey(ctx, a.key)).Infow("Echo",
		"greeting", a.params.Greeting, "text", msg.Text, "source", source, "tag", tag)

	switch {
	case msg.RemindCron != "":
		_, err := a.RemindEvery(ctx, msg.Text, msg.RemindCron)
		return err
	case msg.RemindAfter != "":
		after, err := time.ParseDuration(msg.RemindAfter)
		if err != nil {
			return errors.ErrInvalidParam.WithCause(err)
		}
		_, err = a.Remind(ctx, msg.Text, after)
		return err
	}
	return nil
}

// Remind schedules text to be delivered back to the agent after delay.
func (a *Agent) Remind(ctx context.Context, text string, delay time.Duration) (string, error) {
	payload, err := codec.Marshal(Message{Text: text})
	if err != nil {
		return "", err
	}
	return a.scheduler.CreateTaskAfter(ctx, payload, delay)
}

// RemindEvery schedules text at every occurrence of the cron expression.
func (a *Agent) RemindEvery(ctx context.Context, text, expr string) (string, error) {
	payload, err := codec.Marshal(Message{Text: text})
	if err != nil {
		return "", err
	}
	return a.scheduler.CreateCronTask(ctx, payload, expr)
}

// Key returns the agent's key.
func (a *Agent) Key() string {
	return a.key
}

// Scheduler returns the agent's scheduler.
func (a *Agent) Scheduler() *scheduling.Scheduler {
	return a.scheduler
}

// Received returns the deliveries recorded by this instance.
func (a *Agent) Received() []Received {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Received(nil), a.received...)
}
