package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bngesp/MultiCoder/internal/capability"
	"github.com/bngesp/MultiCoder/internal/domain"
	"github.com/bngesp/MultiCoder/internal/kafka"
	redisstore "github.com/bngesp/MultiCoder/internal/redis"
	"github.com/bngesp/MultiCoder/pkg/telemetry"
	"github.com/bngesp/MultiCoder/services/agent"
	"github.com/bngesp/MultiCoder/services/agent/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start an agent for one role",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("kafka-brokers", "localhost:9092", "comma-separated Kafka broker addresses")
	serveCmd.Flags().String("redis-addr", "localhost:6379", "Redis address (host:port)")
	serveCmd.Flags().String("role", "analyze", "agent role: analyze | generate | verify | document")
	serveCmd.Flags().Duration("capability-timeout", 30*time.Second, "per-invocation timeout (keep below the coordinator's task timeout)")
	serveCmd.Flags().String("anthropic-api-key", "", "Anthropic API key; empty runs the built-in heuristic capability")
	serveCmd.Flags().String("anthropic-model", "", "Anthropic model name (empty selects a default)")
	serveCmd.Flags().String("metrics-addr", ":9091", "Prometheus metrics server address")
	serveCmd.Flags().String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")

	bindFlag("kafka_brokers", serveCmd.Flags(), "kafka-brokers")
	bindFlag("redis_addr", serveCmd.Flags(), "redis-addr")
	bindFlag("role", serveCmd.Flags(), "role")
	bindFlag("capability_timeout", serveCmd.Flags(), "capability-timeout")
	bindFlag("anthropic_api_key", serveCmd.Flags(), "anthropic-api-key")
	bindFlag("anthropic_model", serveCmd.Flags(), "anthropic-model")
	bindFlag("metrics_addr", serveCmd.Flags(), "metrics-addr")
	bindFlag("otel_endpoint", serveCmd.Flags(), "otel-endpoint")
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	_ = viper.BindEnv("anthropic_api_key", "ANTHROPIC_API_KEY")
}

// buildCapability selects the capability for a role: heuristic by default,
// model-backed when an API key is configured.
func buildCapability(role domain.Role, cfg config.Config) (capability.Capability, error) {
	if cfg.AnthropicAPIKey != "" {
		backend, err := capability.NewAnthropicBackend(cfg.AnthropicAPIKey, cfg.AnthropicModel)
		if err != nil {
			return nil, err
		}
		return capability.NewLLMCapability(role, backend)
	}

	registry := capability.NewRegistry()
	registry.Register(capability.NewAnalyzer())
	registry.Register(capability.NewGenerator())
	registry.Register(capability.NewVerifier())
	registry.Register(capability.NewDocumenter())
	return registry.Get(role)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())

	role := domain.Role(cfg.Role)
	if !role.Valid() {
		return &domain.UnknownRoleError{Role: role}
	}
	agentID := fmt.Sprintf("%s-%s", role, uuid.New().String()[:8])

	logger := buildLogger(cfg.LogLevel, "agent").With(
		slog.String("role", string(role)),
		slog.String("agent_id", agentID),
	)

	shutdownTracer, err := telemetry.InitTracer(context.Background(), "agent-"+string(role), cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer()

	topics := kafka.DefaultTopics()
	topic, err := topics.Task(role)
	if err != nil {
		return err
	}
	groupID := "agent-" + string(role) + "-group"

	brokers := strings.Split(cfg.KafkaBrokers, ",")
	consumer := kafka.NewConsumer(brokers, topic, groupID, logger)
	defer func() { _ = consumer.Close() }()

	producer := kafka.NewProducer(brokers)
	defer func() { _ = producer.Close() }()

	redisClient := redisstore.NewClient(cfg.RedisAddr)
	defer func() { _ = redisClient.Close() }()
	store := redisstore.NewSnapshotStore(redisClient)

	capa, err := buildCapability(role, cfg)
	if err != nil {
		return fmt.Errorf("capability: %w", err)
	}

	a, err := agent.New(agentID, consumer, producer, topics, capa,
		agent.WithLogger(logger),
		agent.WithTimeout(cfg.CapabilityTimeout),
		agent.WithSnapshotStore(store),
	)
	if err != nil {
		return fmt.Errorf("agent: %w", err)
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	telemetry.StartMetricsServer(runCtx, cfg.MetricsAddr, nil, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-quit
		logger.Info("shutting down, draining in-flight tasks...")
		runCancel()
	}()

	logger.Info("agent starting",
		slog.String("topic", topic),
		slog.Duration("capability_timeout", cfg.CapabilityTimeout),
	)

	if err := a.Run(runCtx); err != nil {
		return fmt.Errorf("agent: %w", err)
	}

	a.Wait()
	logger.Info("stopped cleanly")
	return nil
}
