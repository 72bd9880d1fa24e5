package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bngesp/MultiCoder/internal/capability"
	"github.com/bngesp/MultiCoder/internal/domain"
	"github.com/bngesp/MultiCoder/internal/kafka"
)

// ── mocks ────────────────────────────────────────────────────────────────────

type publishedMsg struct {
	topic string
	key   string
	value []byte
}

type fakeProducer struct {
	msgs []publishedMsg
	err  error
}

func (p *fakeProducer) Publish(_ context.Context, topic, key string, value []byte) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, publishedMsg{topic, key, value})
	return nil
}
func (p *fakeProducer) Close() error { return nil }

func (p *fakeProducer) replies(t *testing.T) []domain.ReplyEnvelope {
	t.Helper()
	var out []domain.ReplyEnvelope
	for _, m := range p.msgs {
		var env domain.ReplyEnvelope
		require.NoError(t, json.Unmarshal(m.value, &env))
		out = append(out, env)
	}
	return out
}

type fakeStatusStore struct {
	statuses map[string]domain.RequestStatus
}

func (s *fakeStatusStore) GetStatus(_ context.Context, id string) (domain.RequestStatus, error) {
	st, ok := s.statuses[id]
	if !ok {
		return "", &domain.RequestNotFoundError{RequestID: id}
	}
	return st, nil
}
func (s *fakeStatusStore) SetStatus(context.Context, string, domain.RequestStatus) error { return nil }
func (s *fakeStatusStore) SetRequestMeta(context.Context, *domain.Request) error         { return nil }
func (s *fakeStatusStore) GetRequestMeta(_ context.Context, id string) (*domain.Request, error) {
	return nil, &domain.RequestNotFoundError{RequestID: id}
}
func (s *fakeStatusStore) SetResult(context.Context, string, []byte, time.Duration) error {
	return nil
}
func (s *fakeStatusStore) GetResult(_ context.Context, id string) ([]byte, error) {
	return nil, &domain.RequestNotFoundError{RequestID: id}
}

// slowCapability blocks until its context is cancelled.
type slowCapability struct{}

func (slowCapability) Role() domain.Role { return domain.RoleGenerate }
func (slowCapability) Invoke(ctx context.Context, _ domain.TaskInput) (json.RawMessage, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// ── helpers ──────────────────────────────────────────────────────────────────

func newTestAgent(t *testing.T, prod *fakeProducer, capa capability.Capability, opts ...Option) *Agent {
	t.Helper()
	a, err := New("agent-test", nil, prod, kafka.DefaultTopics(), capa,
		append([]Option{WithLogger(slog.Default())}, opts...)...)
	require.NoError(t, err)
	return a
}

func taskMessage(t *testing.T, role domain.Role, prompt string) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(domain.TaskEnvelope{
		RequestID: "req-1",
		TaskID:    "task-1",
		Role:      role,
		Input:     domain.TaskInput{Prompt: prompt},
		Attempt:   2,
	})
	require.NoError(t, err)
	return kafka.Message{Value: raw}
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestAgent_SuccessPublishesOneReply(t *testing.T) {
	prod := &fakeProducer{}
	a := newTestAgent(t, prod, capability.NewAnalyzer())

	err := a.processMessage(context.Background(), taskMessage(t, domain.RoleAnalyze, "reverse a string"))
	require.NoError(t, err)

	replies := prod.replies(t)
	require.Len(t, replies, 1)
	assert.Equal(t, kafka.DefaultTopics().Replies, prod.msgs[0].topic)
	assert.Equal(t, "task-1", prod.msgs[0].key)
	assert.True(t, replies[0].Outcome.Success)
	assert.Equal(t, "agent-test", replies[0].AgentID)
	assert.Equal(t, 2, replies[0].Attempt, "reply must echo the envelope's attempt")

	var analysis domain.AnalysisOutput
	require.NoError(t, json.Unmarshal(replies[0].Outcome.Output, &analysis))
	assert.Equal(t, "reverse-string", analysis.Intent)
}

func TestAgent_DeterministicFailureRepliesImmediately(t *testing.T) {
	prod := &fakeProducer{}
	a := newTestAgent(t, prod, capability.NewVerifier())

	// Verifier without generated code fails deterministically.
	err := a.processMessage(context.Background(), taskMessage(t, domain.RoleVerify, "whatever"))
	require.NoError(t, err)

	replies := prod.replies(t)
	require.Len(t, replies, 1)
	assert.False(t, replies[0].Outcome.Success)
	assert.NotEmpty(t, replies[0].Outcome.Reason)
}

func TestAgent_CapabilityTimeoutRepliesFailure(t *testing.T) {
	prod := &fakeProducer{}
	a := newTestAgent(t, prod, slowCapability{}, WithTimeout(20*time.Millisecond))

	err := a.processMessage(context.Background(), taskMessage(t, domain.RoleGenerate, "slow"))
	require.NoError(t, err)

	replies := prod.replies(t)
	require.Len(t, replies, 1)
	assert.False(t, replies[0].Outcome.Success)
	assert.Contains(t, replies[0].Outcome.Reason, "context deadline exceeded")
}

func TestAgent_MalformedEnvelopeDiscardedWithoutReply(t *testing.T) {
	prod := &fakeProducer{}
	a := newTestAgent(t, prod, capability.NewAnalyzer())

	err := a.processMessage(context.Background(), kafka.Message{Value: []byte("not-json")})
	require.NoError(t, err)
	assert.Empty(t, prod.msgs)
}

func TestAgent_RoleMismatchRepliesFailure(t *testing.T) {
	prod := &fakeProducer{}
	a := newTestAgent(t, prod, capability.NewAnalyzer())

	err := a.processMessage(context.Background(), taskMessage(t, domain.RoleGenerate, "misrouted"))
	require.NoError(t, err)

	replies := prod.replies(t)
	require.Len(t, replies, 1)
	assert.False(t, replies[0].Outcome.Success)
}

func TestAgent_TerminalRequestSkippedWithoutReply(t *testing.T) {
	prod := &fakeProducer{}
	store := &fakeStatusStore{statuses: map[string]domain.RequestStatus{
		"req-1": domain.RequestFailed,
	}}
	a := newTestAgent(t, prod, capability.NewAnalyzer(), WithSnapshotStore(store))

	err := a.processMessage(context.Background(), taskMessage(t, domain.RoleAnalyze, "late work"))
	require.NoError(t, err)
	assert.Empty(t, prod.msgs, "no reply for a terminal request")
}

func TestAgent_ReplyPublishFailureSkipsCommit(t *testing.T) {
	prod := &fakeProducer{err: errors.New("broker down")}
	a := newTestAgent(t, prod, capability.NewAnalyzer())

	err := a.processMessage(context.Background(), taskMessage(t, domain.RoleAnalyze, "reverse a string"))
	require.Error(t, err, "offset must not commit when the reply cannot be published")
}
