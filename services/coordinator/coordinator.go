// Package coordinator is the orchestration core: it accepts development
// requests, fans tasks out to agent roles over Kafka in dependency order,
// consumes replies, applies the timeout/retry policy, and aggregates the
// final artifact.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/bngesp/MultiCoder/internal/domain"
	"github.com/bngesp/MultiCoder/internal/kafka"
	"github.com/bngesp/MultiCoder/internal/ledger"
	"github.com/bngesp/MultiCoder/internal/postgres"
	redisstore "github.com/bngesp/MultiCoder/internal/redis"
	"github.com/bngesp/MultiCoder/pkg/retry"
	"github.com/bngesp/MultiCoder/pkg/telemetry"
)

const reasonTimeout = "timeout waiting for agent reply"

// Coordinator drives requests through their task plan. All ledger mutation
// happens inside ledger callbacks, so one request's tasks are never touched
// concurrently.
type Coordinator struct {
	ledger   *ledger.Ledger
	producer kafka.Producer
	consumer kafka.Consumer
	topics   kafka.Topics
	store    redisstore.SnapshotStore   // nil = no snapshot mirror
	repo     postgres.RequestRepository // nil = no history
	plan     []domain.TaskSpec
	logger   *slog.Logger

	maxAttempts    int
	taskTimeout    time.Duration
	requestTimeout time.Duration
	baseDelay      time.Duration

	timerMu sync.Mutex
	timers  map[string]*time.Timer
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithMaxAttempts(n int) Option                        { return func(c *Coordinator) { c.maxAttempts = n } }
func WithTaskTimeout(d time.Duration) Option              { return func(c *Coordinator) { c.taskTimeout = d } }
func WithRequestTimeout(d time.Duration) Option           { return func(c *Coordinator) { c.requestTimeout = d } }
func WithBaseDelay(d time.Duration) Option                { return func(c *Coordinator) { c.baseDelay = d } }
func WithLogger(l *slog.Logger) Option                    { return func(c *Coordinator) { c.logger = l } }
func WithPlan(plan []domain.TaskSpec) Option              { return func(c *Coordinator) { c.plan = plan } }
func WithSnapshotStore(s redisstore.SnapshotStore) Option { return func(c *Coordinator) { c.store = s } }
func WithRepository(r postgres.RequestRepository) Option  { return func(c *Coordinator) { c.repo = r } }

// New constructs a Coordinator with the given transport and options.
func New(producer kafka.Producer, consumer kafka.Consumer, topics kafka.Topics, opts ...Option) (*Coordinator, error) {
	if err := topics.Validate(); err != nil {
		return nil, err
	}
	c := &Coordinator{
		ledger:         ledger.New(),
		producer:       producer,
		consumer:       consumer,
		topics:         topics,
		plan:           domain.DefaultPlan(),
		logger:         slog.Default(),
		maxAttempts:    3,
		taskTimeout:    60 * time.Second,
		requestTimeout: 10 * time.Minute,
		baseDelay:      time.Second,
		timers:         make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, spec := range c.plan {
		if !spec.Role.Valid() {
			return nil, &domain.UnknownRoleError{Role: spec.Role}
		}
	}
	return c, nil
}

// Run consumes the reply topic until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	return c.consumer.Subscribe(ctx, c.HandleReply)
}

// Submit validates and registers a new request, then dispatches every task
// whose dependencies are already satisfied (initially only the analyzer).
// The request ID is returned synchronously; completion is observed via
// GetStatus or the notify topic.
func (c *Coordinator) Submit(ctx context.Context, prompt string) (string, error) {
	ctx, span := otel.Tracer("coordinator").Start(ctx, "coordinator.submit")
	defer span.End()

	if prompt == "" {
		err := &domain.InvalidInputError{Reason: "empty prompt"}
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	now := time.Now().UTC()
	req := &domain.Request{
		ID:        uuid.New().String(),
		Prompt:    prompt,
		Status:    domain.RequestPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	span.SetAttributes(attribute.String("request.id", req.ID))

	tasks := make([]*domain.Task, 0, len(c.plan))
	for _, spec := range c.plan {
		tasks = append(tasks, &domain.Task{
			ID:        uuid.New().String(),
			RequestID: req.ID,
			Role:      spec.Role,
			DependsOn: spec.DependsOn,
			State:     domain.TaskWaiting,
		})
	}

	c.ledger.Insert(req, tasks)
	telemetry.CoordinatorRequestsSubmitted.Inc()
	telemetry.CoordinatorLedgerRequests.Set(float64(c.ledger.Len()))

	// The whole-request deadline caps the chain end to end, independent of
	// per-task timeouts and retries.
	if c.requestTimeout > 0 {
		c.armDeadline(req.ID)
	}

	// History and snapshot writes are best-effort; the ledger is authoritative.
	if c.repo != nil {
		if err := c.repo.Create(ctx, req); err != nil {
			c.logger.Error("failed to persist request", slog.String("request_id", req.ID), slog.String("error", err.Error()))
		}
	}
	c.mirror(ctx, req)

	err := c.ledger.Update(req.ID, func(e *ledger.Entry) error {
		e.Request.Status = domain.RequestInProgress
		e.Request.UpdatedAt = time.Now().UTC()
		c.mirror(ctx, e.Request)
		c.dispatchReady(ctx, e)
		return nil
	})
	if err != nil {
		return "", err
	}

	c.logger.Info("request submitted",
		slog.String("request_id", req.ID),
		slog.Int("tasks", len(tasks)),
	)
	return req.ID, nil
}

// GetStatus returns a snapshot of the request and its tasks. Requests
// already evicted from the ledger fall back to the Redis mirror, then to
// the Postgres history (without per-task detail).
func (c *Coordinator) GetStatus(ctx context.Context, requestID string) (domain.Request, []domain.Task, error) {
	req, tasks, err := c.ledger.Snapshot(requestID)
	if err == nil {
		return req, tasks, nil
	}
	if c.store != nil {
		if mirrored, serr := c.store.GetRequestMeta(ctx, requestID); serr == nil {
			return *mirrored, nil, nil
		}
	}
	if c.repo != nil {
		if stored, rerr := c.repo.GetByID(ctx, requestID); rerr == nil {
			return *stored, nil, nil
		}
	}
	return domain.Request{}, nil, err
}

// Cancel marks every non-terminal task of the request Expired, stops their
// timers and fails the request. Late agent replies are absorbed by the
// staleness check.
func (c *Coordinator) Cancel(ctx context.Context, requestID string) error {
	err := c.ledger.Update(requestID, func(e *ledger.Entry) error {
		if e.Request.Status.IsTerminal() {
			return &domain.RequestTerminalError{RequestID: requestID, Status: e.Request.Status}
		}
		for _, t := range e.Tasks {
			if !t.State.IsTerminal() {
				t.State = domain.TaskExpired
				c.stopTimer(t.ID)
			}
		}
		c.finishRequest(ctx, e, domain.RequestFailed, "cancelled by caller")
		return nil
	})
	if err != nil {
		return err
	}
	c.logger.Info("request cancelled", slog.String("request_id", requestID))
	return nil
}

// HandleReply is the Kafka HandlerFunc for the reply topic. Malformed and
// stale replies are logged and committed; they never mutate the ledger.
func (c *Coordinator) HandleReply(ctx context.Context, msg kafka.Message) error {
	ctx, span := otel.Tracer("coordinator").Start(ctx, "coordinator.reply")
	defer span.End()

	var reply domain.ReplyEnvelope
	if err := json.Unmarshal(msg.Value, &reply); err != nil {
		c.logger.Error("malformed reply, discarding",
			slog.String("error", err.Error()),
			slog.String("raw", string(msg.Value)),
		)
		span.RecordError(err)
		return nil
	}
	span.SetAttributes(
		attribute.String("request.id", reply.RequestID),
		attribute.String("task.id", reply.TaskID),
		attribute.String("task.role", string(reply.Role)),
	)

	log := c.logger.With(
		slog.String("request_id", reply.RequestID),
		slog.String("task_id", reply.TaskID),
		slog.String("role", string(reply.Role)),
	)

	err := c.ledger.UpdateByTask(reply.TaskID, func(e *ledger.Entry, t *domain.Task) error {
		// A reply may only land on the dispatched attempt it answers. An
		// attempt mismatch means the task timed out and was re-dispatched
		// while this reply sat in the topic; acting on it would either burn
		// the live attempt's retry or complete the task under a stale output.
		if t.State != domain.TaskDispatched || reply.Attempt != t.Attempt {
			return &domain.StaleReplyError{TaskID: t.ID, State: t.State, Attempt: t.Attempt}
		}
		c.stopTimer(t.ID)

		if reply.Outcome.Success {
			telemetry.CoordinatorRepliesReceived.WithLabelValues(string(t.Role), "success").Inc()
			c.completeTask(ctx, e, t, reply.Outcome.Output)
			log.Info("task completed", slog.Int("attempt", t.Attempt))
		} else {
			telemetry.CoordinatorRepliesReceived.WithLabelValues(string(t.Role), "failure").Inc()
			log.Warn("task failed", slog.Int("attempt", t.Attempt), slog.String("reason", reply.Outcome.Reason))
			c.applyFailure(ctx, e, t, reply.Outcome.Reason)
		}
		return nil
	})
	if err != nil {
		// Unknown task or wrong state: duplicate delivery or a late reply
		// after cancel/retry. Commit and move on.
		telemetry.CoordinatorStaleReplies.WithLabelValues(string(reply.Role)).Inc()
		log.Info("stale reply discarded", slog.String("error", err.Error()))
	}
	return nil
}

// completeTask records the output, dispatches newly unblocked tasks and
// aggregates when the whole plan is done. Caller holds the entry lock.
func (c *Coordinator) completeTask(ctx context.Context, e *ledger.Entry, t *domain.Task, output json.RawMessage) {
	now := time.Now().UTC()
	t.State = domain.TaskCompleted
	t.CompletedAt = &now
	t.Output = output
	c.recordRun(ctx, t, "")

	if e.AllCompleted() {
		c.aggregate(ctx, e)
		return
	}
	c.dispatchReady(ctx, e)
}

// dispatchReady publishes every Waiting task whose dependencies are all
// Completed. Caller holds the entry lock.
func (c *Coordinator) dispatchReady(ctx context.Context, e *ledger.Entry) {
	for _, t := range e.ReadyTasks() {
		c.dispatch(ctx, e, t)
	}
}

// dispatch publishes one task envelope and arms its timeout timer. A
// publish failure leaves the task Waiting and schedules a re-scan, so a
// broker outage stalls the request instead of failing it.
func (c *Coordinator) dispatch(ctx context.Context, e *ledger.Entry, t *domain.Task) {
	topic, err := c.topics.Task(t.Role)
	if err != nil {
		c.applyFailure(ctx, e, t, err.Error())
		return
	}

	t.Input = c.buildInput(e, t)
	envelope := domain.TaskEnvelope{
		RequestID: t.RequestID,
		TaskID:    t.ID,
		Role:      t.Role,
		Input:     t.Input,
		Attempt:   t.Attempt,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		c.applyFailure(ctx, e, t, fmt.Sprintf("marshal task envelope: %v", err))
		return
	}

	if err := c.producer.Publish(ctx, topic, t.ID, payload); err != nil {
		c.logger.Error("task publish failed, will re-scan",
			slog.String("task_id", t.ID),
			slog.String("topic", topic),
			slog.String("error", err.Error()),
		)
		c.rescanLater(t.RequestID, c.baseDelay)
		return
	}

	now := time.Now().UTC()
	t.State = domain.TaskDispatched
	t.DispatchedAt = &now
	c.armTimer(t.RequestID, t.ID, t.Attempt)

	telemetry.CoordinatorTasksDispatched.WithLabelValues(string(t.Role)).Inc()
	c.logger.Info("task dispatched",
		slog.String("request_id", t.RequestID),
		slog.String("task_id", t.ID),
		slog.String("role", string(t.Role)),
		slog.Int("attempt", t.Attempt),
	)
}

// buildInput merges the original prompt with the output of each dependency.
func (c *Coordinator) buildInput(e *ledger.Entry, t *domain.Task) domain.TaskInput {
	input := domain.TaskInput{Prompt: e.Request.Prompt}
	for _, role := range t.DependsOn {
		dep := e.TaskByRole(role)
		if dep == nil || dep.Output == nil {
			continue
		}
		if input.Deps == nil {
			input.Deps = make(map[domain.Role]json.RawMessage, len(t.DependsOn))
		}
		input.Deps[role] = dep.Output
	}
	return input
}

// applyFailure runs the retry policy for a failed or timed-out attempt.
// Below the attempt limit the task re-enters Waiting and is re-dispatched
// after backoff; at the limit it fails the whole request. Caller holds the
// entry lock.
func (c *Coordinator) applyFailure(ctx context.Context, e *ledger.Entry, t *domain.Task, reason string) {
	c.stopTimer(t.ID)

	if t.Attempt+1 < c.maxAttempts {
		t.Attempt++
		t.State = domain.TaskWaiting
		t.DispatchedAt = nil
		telemetry.CoordinatorRetries.WithLabelValues(string(t.Role)).Inc()
		c.logger.Warn("task will retry",
			slog.String("task_id", t.ID),
			slog.String("role", string(t.Role)),
			slog.Int("attempt", t.Attempt),
			slog.String("reason", reason),
		)
		c.rescanLater(t.RequestID, retry.Backoff(c.baseDelay, t.Attempt))
		return
	}

	exhausted := &domain.RetriesExhaustedError{
		Role:     t.Role,
		TaskID:   t.ID,
		Attempts: t.Attempt + 1,
		Reason:   reason,
	}
	t.State = domain.TaskFailed
	t.FailureReason = reason
	c.recordRun(ctx, t, reason)

	// A single failed task aborts the request: downstream roles structurally
	// require the generator's output, so a partial artifact is never produced.
	for _, sibling := range e.Tasks {
		if !sibling.State.IsTerminal() {
			sibling.State = domain.TaskExpired
			c.stopTimer(sibling.ID)
		}
	}

	c.finishRequest(ctx, e, domain.RequestFailed, exhausted.Error())
	c.logger.Error("request failed",
		slog.String("request_id", e.Request.ID),
		slog.String("error", exhausted.Error()),
	)
}

// onTimeout fires when a dispatched task's window elapses without a reply.
// The attempt guard discards timers from superseded attempts.
func (c *Coordinator) onTimeout(requestID, taskID string, attempt int) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := c.ledger.UpdateByTask(taskID, func(e *ledger.Entry, t *domain.Task) error {
		if t.State != domain.TaskDispatched || t.Attempt != attempt {
			return nil // stale timer
		}
		telemetry.CoordinatorTimeouts.WithLabelValues(string(t.Role)).Inc()
		c.logger.Warn("task timed out",
			slog.String("request_id", requestID),
			slog.String("task_id", taskID),
			slog.String("role", string(t.Role)),
			slog.Int("attempt", attempt),
		)
		c.applyFailure(ctx, e, t, reasonTimeout)
		return nil
	})
	if err != nil {
		c.logger.Debug("timeout for evicted task", slog.String("task_id", taskID))
	}
}

// aggregate builds the final artifact from the three producing roles. A
// failing verification report is data carried in the result, not an
// orchestration failure. Caller holds the entry lock.
func (c *Coordinator) aggregate(ctx context.Context, e *ledger.Entry) {
	result := &domain.Result{}

	var gen domain.GenerationOutput
	if err := unmarshalOutput(e, domain.RoleGenerate, &gen); err != nil {
		c.finishRequest(ctx, e, domain.RequestFailed, err.Error())
		return
	}
	result.Code = gen.Code
	result.Language = gen.Language

	var doc domain.DocumentationOutput
	if err := unmarshalOutput(e, domain.RoleDocument, &doc); err != nil {
		c.finishRequest(ctx, e, domain.RequestFailed, err.Error())
		return
	}
	result.Documentation = doc.Documentation

	if err := unmarshalOutput(e, domain.RoleVerify, &result.Verification); err != nil {
		c.finishRequest(ctx, e, domain.RequestFailed, err.Error())
		return
	}

	e.Request.Result = result
	c.finishRequest(ctx, e, domain.RequestCompleted, "")
	c.logger.Info("request completed",
		slog.String("request_id", e.Request.ID),
		slog.Bool("verification_pass", result.Verification.Pass),
	)
}

func unmarshalOutput(e *ledger.Entry, role domain.Role, v any) error {
	t := e.TaskByRole(role)
	if t == nil || t.Output == nil {
		return fmt.Errorf("missing %s output", role)
	}
	if err := json.Unmarshal(t.Output, v); err != nil {
		return fmt.Errorf("malformed %s output: %w", role, err)
	}
	return nil
}

// armDeadline starts the whole-request timer. On expiry every non-terminal
// task is expired and the request ends TimedOut.
func (c *Coordinator) armDeadline(requestID string) {
	c.timerMu.Lock()
	c.timers[requestID] = time.AfterFunc(c.requestTimeout, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := c.ledger.Update(requestID, func(e *ledger.Entry) error {
			if e.Request.Status.IsTerminal() {
				return nil
			}
			for _, t := range e.Tasks {
				if !t.State.IsTerminal() {
					t.State = domain.TaskExpired
					c.stopTimer(t.ID)
				}
			}
			c.logger.Error("request deadline exceeded", slog.String("request_id", requestID))
			c.finishRequest(ctx, e, domain.RequestTimedOut, "request deadline exceeded")
			return nil
		})
		if err != nil {
			c.logger.Debug("deadline for evicted request", slog.String("request_id", requestID))
		}
	})
	c.timerMu.Unlock()
}

// finishRequest moves the request to a terminal status exactly once, then
// mirrors, persists and notifies. Caller holds the entry lock.
func (c *Coordinator) finishRequest(ctx context.Context, e *ledger.Entry, status domain.RequestStatus, failureReason string) {
	if e.Request.Status.IsTerminal() {
		return
	}
	c.stopTimer(e.Request.ID)
	now := time.Now().UTC()
	e.Request.Status = status
	e.Request.FailureReason = failureReason
	e.Request.UpdatedAt = now
	e.Request.CompletedAt = &now

	telemetry.CoordinatorRequestsFinished.WithLabelValues(string(status)).Inc()
	telemetry.CoordinatorRequestDurationSeconds.Observe(now.Sub(e.Request.CreatedAt).Seconds())

	c.mirror(ctx, e.Request)
	if c.repo != nil {
		if err := c.repo.UpdateStatus(ctx, e.Request.ID, status, failureReason); err != nil {
			c.logger.Error("failed to update request history", slog.String("request_id", e.Request.ID), slog.String("error", err.Error()))
		}
		if e.Request.Result != nil {
			if err := c.repo.SetResult(ctx, e.Request.ID, e.Request.Result); err != nil {
				c.logger.Error("failed to persist result", slog.String("request_id", e.Request.ID), slog.String("error", err.Error()))
			}
		}
	}
	c.notify(ctx, e.Request)
}

// mirror writes the request snapshot to Redis, best-effort.
func (c *Coordinator) mirror(ctx context.Context, req *domain.Request) {
	if c.store == nil {
		return
	}
	if err := c.store.SetStatus(ctx, req.ID, req.Status); err != nil {
		c.logger.Error("failed to mirror status", slog.String("request_id", req.ID), slog.String("error", err.Error()))
	}
	if err := c.store.SetRequestMeta(ctx, req); err != nil {
		c.logger.Error("failed to mirror request", slog.String("request_id", req.ID), slog.String("error", err.Error()))
	}
	if req.Result != nil {
		if data, err := json.Marshal(req.Result); err == nil {
			if err := c.store.SetResult(ctx, req.ID, data, 0); err != nil {
				c.logger.Error("failed to mirror result", slog.String("request_id", req.ID), slog.String("error", err.Error()))
			}
		}
	}
}

// notify publishes one terminal notification per request.
func (c *Coordinator) notify(ctx context.Context, req *domain.Request) {
	if c.topics.Notify == "" {
		return
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return
	}
	if err := c.producer.Publish(ctx, c.topics.Notify, req.ID, payload); err != nil {
		c.logger.Error("failed to publish notification", slog.String("request_id", req.ID), slog.String("error", err.Error()))
	}
}

// recordRun appends one terminal attempt record to the audit trail.
func (c *Coordinator) recordRun(ctx context.Context, t *domain.Task, errText string) {
	if c.repo == nil {
		return
	}
	var durationMs int64
	if t.DispatchedAt != nil {
		durationMs = time.Since(*t.DispatchedAt).Milliseconds()
	}
	run := &domain.TaskRun{
		RequestID:  t.RequestID,
		TaskID:     t.ID,
		Role:       t.Role,
		Attempt:    t.Attempt,
		State:      t.State,
		DurationMs: durationMs,
		Error:      errText,
	}
	if err := c.repo.RecordTaskRun(ctx, run); err != nil {
		c.logger.Error("failed to record task run", slog.String("task_id", t.ID), slog.String("error", err.Error()))
	}
}

// rescanLater re-enters the dispatch eligibility scan for a request after
// the given delay.
func (c *Coordinator) rescanLater(requestID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := c.ledger.Update(requestID, func(e *ledger.Entry) error {
			if e.Request.Status.IsTerminal() {
				return nil
			}
			c.dispatchReady(ctx, e)
			return nil
		})
		if err != nil {
			c.logger.Debug("re-scan for evicted request", slog.String("request_id", requestID))
		}
	})
}

// armTimer starts (or replaces) the timeout timer for one task attempt.
func (c *Coordinator) armTimer(requestID, taskID string, attempt int) {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if old, ok := c.timers[taskID]; ok {
		old.Stop()
	}
	c.timers[taskID] = time.AfterFunc(c.taskTimeout, func() {
		c.onTimeout(requestID, taskID, attempt)
	})
}

func (c *Coordinator) stopTimer(taskID string) {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if t, ok := c.timers[taskID]; ok {
		t.Stop()
		delete(c.timers, taskID)
	}
}
