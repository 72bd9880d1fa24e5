// Package agent is the runtime shared by all agent roles: it consumes the
// role's task topic, invokes the registered capability, and publishes
// exactly one reply per received message.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bngesp/MultiCoder/internal/capability"
	"github.com/bngesp/MultiCoder/internal/domain"
	"github.com/bngesp/MultiCoder/internal/kafka"
	redisstore "github.com/bngesp/MultiCoder/internal/redis"
	"github.com/bngesp/MultiCoder/pkg/telemetry"
)

// Agent consumes tasks for one role and executes its capability.
type Agent struct {
	agentID    string
	consumer   kafka.Consumer
	producer   kafka.Producer
	topics     kafka.Topics
	capability capability.Capability
	store      redisstore.SnapshotStore // nil = no terminal-request skip
	timeout    time.Duration
	logger     *slog.Logger

	wg       sync.WaitGroup
	inFlight atomic.Int64
}

// Option configures an Agent.
type Option func(*Agent)

// WithTimeout caps one capability invocation. Keep it shorter than the
// coordinator's task timeout so the agent, not the network, usually wins
// the race and a deterministic failure is reported instead of a timeout.
func WithTimeout(d time.Duration) Option { return func(a *Agent) { a.timeout = d } }

func WithLogger(l *slog.Logger) Option                    { return func(a *Agent) { a.logger = l } }
func WithSnapshotStore(s redisstore.SnapshotStore) Option { return func(a *Agent) { a.store = s } }

// New constructs an Agent for the capability's role.
func New(
	agentID string,
	consumer kafka.Consumer,
	producer kafka.Producer,
	topics kafka.Topics,
	capa capability.Capability,
	opts ...Option,
) (*Agent, error) {
	if err := topics.Validate(); err != nil {
		return nil, err
	}
	a := &Agent{
		agentID:    agentID,
		consumer:   consumer,
		producer:   producer,
		topics:     topics,
		capability: capa,
		timeout:    30 * time.Second,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Run starts consuming and processing tasks. Blocks until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	return a.consumer.Subscribe(ctx, a.processMessage)
}

// Wait blocks until all in-flight tasks finish. Call after Run returns.
func (a *Agent) Wait() { a.wg.Wait() }

// processMessage is the Kafka HandlerFunc. It publishes exactly one reply
// per message: success or failure, never zero and never two. The offset is
// committed only after the reply is handed to the broker.
func (a *Agent) processMessage(consumerCtx context.Context, msg kafka.Message) error {
	var task domain.TaskEnvelope
	if err := json.Unmarshal(msg.Value, &task); err != nil {
		a.logger.Error("malformed task envelope, discarding",
			slog.String("error", err.Error()),
			slog.String("raw", string(msg.Value)),
		)
		return nil
	}

	role := a.capability.Role()
	ctx, span := otel.Tracer("agent").Start(consumerCtx, "agent.process_task")
	defer span.End()
	span.SetAttributes(
		attribute.String("request.id", task.RequestID),
		attribute.String("task.id", task.TaskID),
		attribute.String("task.role", string(role)),
		attribute.String("agent.id", a.agentID),
	)

	log := a.logger.With(
		slog.String("request_id", task.RequestID),
		slog.String("task_id", task.TaskID),
		slog.Int("attempt", task.Attempt),
	)

	if task.Role != role {
		// Misrouted envelope; reply with a deterministic failure so the
		// coordinator does not wait out the timeout.
		log.Error("envelope role mismatch", slog.String("envelope_role", string(task.Role)))
		return a.reply(ctx, &task, domain.FailureOutcome(
			fmt.Sprintf("agent for role %s received %s task", role, task.Role)))
	}

	// Skip work for requests already terminal (cancelled or failed while
	// this message sat in the topic). No reply: the coordinator discards
	// late replies for expired tasks anyway.
	if a.store != nil {
		if status, err := a.store.GetStatus(ctx, task.RequestID); err == nil && status.IsTerminal() {
			log.Info("request already terminal, skipping", slog.String("status", string(status)))
			return nil
		}
	}

	a.wg.Add(1)
	a.inFlight.Add(1)
	telemetry.AgentTasksInFlight.WithLabelValues(string(role)).Inc()
	defer func() {
		telemetry.AgentTasksInFlight.WithLabelValues(string(role)).Dec()
		a.inFlight.Add(-1)
		a.wg.Done()
	}()

	start := time.Now()

	// Fresh context so the capability timeout is independent of consumer
	// shutdown; child spans stay parented to this message's span.
	execCtx, cancel := context.WithTimeout(
		trace.ContextWithSpan(context.Background(), span),
		a.timeout,
	)
	output, err := a.capability.Invoke(execCtx, task.Input)
	cancel()

	duration := time.Since(start)
	telemetry.AgentInvocationDurationSeconds.WithLabelValues(string(role)).Observe(duration.Seconds())

	var outcome domain.Outcome
	if err != nil {
		telemetry.AgentInvocations.WithLabelValues(string(role), "failure").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "capability failed")
		log.Warn("capability failed",
			slog.String("error", err.Error()),
			slog.Int64("duration_ms", duration.Milliseconds()),
		)
		outcome = domain.FailureOutcome(err.Error())
	} else {
		telemetry.AgentInvocations.WithLabelValues(string(role), "success").Inc()
		log.Info("capability succeeded", slog.Int64("duration_ms", duration.Milliseconds()))
		outcome = domain.SuccessOutcome(output)
	}

	return a.reply(ctx, &task, outcome)
}

// reply publishes the outcome keyed by task ID so all replies for one task
// stay ordered. A publish error skips the commit; the coordinator's
// staleness check absorbs the redelivered duplicate.
func (a *Agent) reply(ctx context.Context, task *domain.TaskEnvelope, outcome domain.Outcome) error {
	envelope := domain.ReplyEnvelope{
		RequestID: task.RequestID,
		TaskID:    task.TaskID,
		Role:      task.Role,
		AgentID:   a.agentID,
		Attempt:   task.Attempt,
		Outcome:   outcome,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		a.logger.Error("failed to marshal reply", slog.String("task_id", task.TaskID), slog.String("error", err.Error()))
		return nil
	}
	if err := a.producer.Publish(ctx, a.topics.Replies, task.TaskID, payload); err != nil {
		return fmt.Errorf("publish reply for task %s: %w", task.TaskID, err)
	}
	return nil
}
