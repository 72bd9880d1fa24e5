//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bngesp/MultiCoder/internal/capability"
	"github.com/bngesp/MultiCoder/internal/domain"
	"github.com/bngesp/MultiCoder/internal/kafka"
	"github.com/bngesp/MultiCoder/internal/postgres"
	redisstore "github.com/bngesp/MultiCoder/internal/redis"
	"github.com/bngesp/MultiCoder/services/agent"
	"github.com/bngesp/MultiCoder/services/coordinator"
)

// TestE2E_ReverseStringRequest runs the whole pipeline against real
// containers: coordinator and all four agents wired over Kafka, with the
// Redis snapshot mirror and the Postgres audit trail attached.
func TestE2E_ReverseStringRequest(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	suffix := time.Now().UnixNano()
	topics := kafka.Topics{
		Tasks: map[domain.Role]string{
			domain.RoleAnalyze:  fmt.Sprintf("tasks.analyze-%d", suffix),
			domain.RoleGenerate: fmt.Sprintf("tasks.generate-%d", suffix),
			domain.RoleVerify:   fmt.Sprintf("tasks.verify-%d", suffix),
			domain.RoleDocument: fmt.Sprintf("tasks.document-%d", suffix),
		},
		Replies: fmt.Sprintf("tasks.replies-%d", suffix),
		Notify:  fmt.Sprintf("multicoder.notify-%d", suffix),
	}
	for _, role := range domain.Roles() {
		createTopic(t, topics.Tasks[role])
	}
	createTopic(t, topics.Replies)
	createTopic(t, topics.Notify)

	logger := slog.Default()
	producer := kafka.NewProducer(testKafkaBrokers)
	t.Cleanup(func() { producer.Close() })

	redisClient := newRedisClient(t)
	store := redisstore.NewSnapshotStore(redisClient)

	pool, err := postgres.NewPool(ctx, testPostgresDSN)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	repo := postgres.NewRepository(pool)

	// Coordinator consumes the shared reply topic.
	replyConsumer := kafka.NewConsumer(testKafkaBrokers, topics.Replies,
		fmt.Sprintf("coordinator-group-%d", suffix), logger)
	t.Cleanup(func() { replyConsumer.Close() })

	coord, err := coordinator.New(producer, replyConsumer, topics,
		coordinator.WithLogger(logger),
		coordinator.WithSnapshotStore(store),
		coordinator.WithRepository(repo),
		coordinator.WithTaskTimeout(30*time.Second),
	)
	require.NoError(t, err)
	go coord.Run(ctx) //nolint:errcheck

	// One agent per role, each with its heuristic capability.
	registry := capability.NewRegistry()
	registry.Register(capability.NewAnalyzer())
	registry.Register(capability.NewGenerator())
	registry.Register(capability.NewVerifier())
	registry.Register(capability.NewDocumenter())

	for _, role := range domain.Roles() {
		capa, err := registry.Get(role)
		require.NoError(t, err)

		taskConsumer := kafka.NewConsumer(testKafkaBrokers, topics.Tasks[role],
			fmt.Sprintf("agent-%s-group-%d", role, suffix), logger)
		t.Cleanup(func() { taskConsumer.Close() })

		worker, err := agent.New(fmt.Sprintf("agent-%s-1", role),
			taskConsumer, producer, topics, capa,
			agent.WithLogger(logger),
			agent.WithSnapshotStore(store),
		)
		require.NoError(t, err)
		go worker.Run(ctx) //nolint:errcheck
	}

	// Watch the notify topic for the terminal notification.
	notifyConsumer := kafka.NewConsumer(testKafkaBrokers, topics.Notify,
		fmt.Sprintf("notify-group-%d", suffix), logger)
	t.Cleanup(func() { notifyConsumer.Close() })
	notified := make(chan domain.Request, 1)
	go func() {
		_ = notifyConsumer.Subscribe(ctx, func(_ context.Context, msg kafka.Message) error {
			var req domain.Request
			if err := json.Unmarshal(msg.Value, &req); err != nil {
				return nil
			}
			notified <- req
			return nil
		})
	}()

	requestID, err := coord.Submit(ctx, "write a function that reverses a string")
	require.NoError(t, err)
	require.NotEmpty(t, requestID)

	// The full chain: analyze → generate → {verify, document} → aggregate.
	var final domain.Request
	require.Eventually(t, func() bool {
		req, _, err := coord.GetStatus(ctx, requestID)
		if err != nil {
			return false
		}
		final = req
		return req.Status.IsTerminal()
	}, 90*time.Second, 200*time.Millisecond, "request never reached a terminal status")

	require.Equal(t, domain.RequestCompleted, final.Status, "failure reason: %s", final.FailureReason)
	require.NotNil(t, final.Result)
	assert.Contains(t, final.Result.Code, "reverse_string")
	assert.Equal(t, "python", final.Result.Language)
	assert.NotEmpty(t, final.Result.Documentation)
	assert.True(t, final.Result.Verification.Pass,
		"verification findings: %v", final.Result.Verification.Findings)

	// Every task completed on the first attempt.
	_, tasks, err := coord.GetStatus(ctx, requestID)
	require.NoError(t, err)
	require.Len(t, tasks, 4)
	for _, task := range tasks {
		assert.Equal(t, domain.TaskCompleted, task.State, "task %s", task.Role)
		assert.Zero(t, task.Attempt, "task %s should complete on the first attempt", task.Role)
	}

	// The snapshot mirror converged.
	status, err := store.GetStatus(ctx, requestID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestCompleted, status)

	// The audit trail converged.
	stored, err := repo.GetByID(ctx, requestID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestCompleted, stored.Status)
	require.NotNil(t, stored.Result)
	assert.Contains(t, stored.Result.Code, "reverse_string")

	// Exactly one terminal notification was published.
	select {
	case req := <-notified:
		assert.Equal(t, requestID, req.ID)
		assert.Equal(t, domain.RequestCompleted, req.Status)
	case <-time.After(30 * time.Second):
		t.Fatal("no notification received on the notify topic")
	}
}

// TestE2E_CancelInFlight cancels a request whose generate agent never
// answers and checks the terminal state propagates everywhere.
func TestE2E_CancelInFlight(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	suffix := time.Now().UnixNano()
	topics := kafka.Topics{
		Tasks: map[domain.Role]string{
			domain.RoleAnalyze:  fmt.Sprintf("tasks.analyze-c-%d", suffix),
			domain.RoleGenerate: fmt.Sprintf("tasks.generate-c-%d", suffix),
			domain.RoleVerify:   fmt.Sprintf("tasks.verify-c-%d", suffix),
			domain.RoleDocument: fmt.Sprintf("tasks.document-c-%d", suffix),
		},
		Replies: fmt.Sprintf("tasks.replies-c-%d", suffix),
		Notify:  fmt.Sprintf("multicoder.notify-c-%d", suffix),
	}
	for _, role := range domain.Roles() {
		createTopic(t, topics.Tasks[role])
	}
	createTopic(t, topics.Replies)
	createTopic(t, topics.Notify)

	logger := slog.Default()
	producer := kafka.NewProducer(testKafkaBrokers)
	t.Cleanup(func() { producer.Close() })

	replyConsumer := kafka.NewConsumer(testKafkaBrokers, topics.Replies,
		fmt.Sprintf("coordinator-group-c-%d", suffix), logger)
	t.Cleanup(func() { replyConsumer.Close() })

	store := redisstore.NewSnapshotStore(newRedisClient(t))

	coord, err := coordinator.New(producer, replyConsumer, topics,
		coordinator.WithLogger(logger),
		coordinator.WithSnapshotStore(store),
		coordinator.WithTaskTimeout(time.Minute),
	)
	require.NoError(t, err)
	go coord.Run(ctx) //nolint:errcheck

	// Only the analyzer runs; generate is dispatched but nobody consumes it.
	analyzeConsumer := kafka.NewConsumer(testKafkaBrokers, topics.Tasks[domain.RoleAnalyze],
		fmt.Sprintf("agent-analyze-group-c-%d", suffix), logger)
	t.Cleanup(func() { analyzeConsumer.Close() })
	analyzer, err := agent.New("agent-analyze-1", analyzeConsumer, producer, topics,
		capability.NewAnalyzer(), agent.WithLogger(logger))
	require.NoError(t, err)
	go analyzer.Run(ctx) //nolint:errcheck

	requestID, err := coord.Submit(ctx, "write a function that reverses a string")
	require.NoError(t, err)

	// Wait until generate is actually in flight before cancelling.
	require.Eventually(t, func() bool {
		_, tasks, err := coord.GetStatus(ctx, requestID)
		if err != nil {
			return false
		}
		for _, task := range tasks {
			if task.Role == domain.RoleGenerate && task.State == domain.TaskDispatched {
				return true
			}
		}
		return false
	}, 60*time.Second, 200*time.Millisecond)

	require.NoError(t, coord.Cancel(ctx, requestID))

	req, tasks, err := coord.GetStatus(ctx, requestID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestFailed, req.Status)
	assert.Equal(t, "cancelled by caller", req.FailureReason)
	for _, task := range tasks {
		if task.Role == domain.RoleAnalyze {
			assert.Equal(t, domain.TaskCompleted, task.State)
			continue
		}
		assert.Equal(t, domain.TaskExpired, task.State, "task %s", task.Role)
	}

	// The mirror reflects the terminal status for external pollers.
	status, err := store.GetStatus(ctx, requestID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestFailed, status)
}
