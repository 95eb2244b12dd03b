package cmd

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fasthttp/router"
	"github.com/redis/go-redis/v9"
	"github.com/valyala/fasthttp"

	"github.com/skyflo-ai/skyflo/internal/authn"
	"github.com/skyflo-ai/skyflo/internal/config"
	"github.com/skyflo-ai/skyflo/internal/conversation"
	"github.com/skyflo-ai/skyflo/internal/db"
	"github.com/skyflo-ai/skyflo/internal/migrations"
	"github.com/skyflo-ai/skyflo/internal/telemetry"
	"github.com/skyflo-ai/skyflo/internal/titlegen"
	"github.com/skyflo-ai/skyflo/internal/transport"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/eventbus"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/llm"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/llm/anthropic"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/llm/openai"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/orchestrator"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/stopregistry"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/toolcatalog"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/toolcatalog/k8stools"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/toolcatalog/mcp"

	"github.com/spf13/cobra"
)

const systemPrompt = `You are an operations agent. You help the user inspect and act on their infrastructure by calling the tools available to you. Work iteratively: call a tool, read its result, decide the next step. Destructive actions require the user's approval before they run.`

var agentServerCmd = &cobra.Command{
	Use:   "agent-server",
	Short: "Start the agent run orchestrator's HTTP server",
	Run: func(cmd *cobra.Command, args []string) {
		conf := config.ReadConfig()

		shutdownTelemetry := telemetry.NewProvider(conf.OtelExporterOTLPEndpoint, conf.ServiceName)
		defer shutdownTelemetry()

		m, err := migrations.NewMigrator()
		if err != nil {
			log.Fatalf("unable to create migrator: %v", err)
		}
		if err := m.Up(0); err != nil {
			log.Fatalf("unable to run migrations: %v", err)
		}

		sqlDB := db.NewConn(conf)
		defer sqlDB.Close()

		redisClient := redis.NewClient(&redis.Options{
			Addr:     conf.RedisAddr,
			Username: conf.RedisUsername,
			Password: conf.RedisPassword,
			DB:       conf.RedisDB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()

		bus := eventbus.New(redisClient, conf.IntegrationMetadataKeys...)
		stop := stopregistry.New(redisClient, conf.StopFlagTTL)

		catalog := buildCatalog(conf)

		anthropicProvider := anthropic.New(conf.AnthropicAPIKey, conf.LLMModel)
		openaiProvider := openai.New(conf.OpenAIAPIKey, conf.LLMModel)
		model := llm.ForModel(conf.LLMModel, anthropicProvider, openaiProvider)

		repo := conversation.NewRepo(sqlDB)
		convSvc := conversation.NewService(repo, nil)

		authenticator, err := authn.New(conf)
		if err != nil {
			log.Fatalf("unable to build authenticator: %v", err)
		}

		titleWorker := titlegen.New(convSvc, model, conf.TitlegenWorkers)
		defer titleWorker.Stop()

		orchDeps := orchestrator.Dependencies{
			Stop:                stop,
			Bus:                 bus,
			Catalog:             catalog,
			Repo:                repo,
			LLM:                 model,
			Tokens:              llm.EstimatingCounter{},
			SystemPrompt:        systemPrompt,
			ContextWindowTokens: conf.ContextWindow,
			MaxIterations:       conf.MaxIterations,
			Prices:              orchestrator.DefaultPrices,
		}

		r := router.New()
		transport.RegisterRoutes(r, transport.Deps{
			Conversations:    convSvc,
			Catalog:          catalog,
			Bus:              bus,
			Stop:             stop,
			Auth:             authenticator,
			OrchestratorDeps: orchDeps,
		})

		srv := &fasthttp.Server{Handler: r.Handler}

		go func() {
			slog.Info("agent run orchestrator listening", slog.String("addr", conf.HTTPAddr))
			if err := srv.ListenAndServe(conf.HTTPAddr); err != nil {
				slog.Error("server shutdown", slog.Any("error", err))
			}
		}()

		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c

		slog.Info("received interrupt, shutting down")
		_, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(); err != nil {
			slog.Error("failed to shut down server cleanly", slog.Any("error", err))
		}
	},
}

// buildCatalog wires every configured tool source into one Catalog:
// the built-in Kubernetes tool set when enabled, plus one MCP provider
// per configured server URL.
func buildCatalog(conf *config.Config) toolcatalog.Catalog {
	var providers []toolcatalog.Provider

	if conf.K8sToolsEnable {
		k8s, err := k8stools.NewFromKubeconfig(conf.K8sKubeconfig)
		if err != nil {
			slog.Warn("k8s tools disabled: unable to build client", slog.Any("error", err))
		} else {
			providers = append(providers, k8s)
		}
	}

	for _, url := range conf.MCPServerURLs {
		p, err := mcp.Connect(context.Background(), url, nil)
		if err != nil {
			slog.Warn("mcp server unreachable, skipping", slog.String("endpoint", url), slog.Any("error", err))
			continue
		}
		providers = append(providers, p)
	}

	return toolcatalog.NewMulti(conf.ToolCatalogTTL, providers...)
}

func init() {
	rootCmd.AddCommand(agentServerCmd)
}
