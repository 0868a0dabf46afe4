package cli

import (
	"context"
	"os"

	"github.com/knowhq/sable/pkg/adapter"
	"github.com/knowhq/sable/pkg/grader"
	"github.com/knowhq/sable/pkg/graph"
	"github.com/knowhq/sable/pkg/policy"
	"github.com/knowhq/sable/pkg/repository"
	"github.com/knowhq/sable/pkg/retrieval"
	"github.com/knowhq/sable/pkg/sanitize"
	"github.com/knowhq/sable/pkg/tool"
	"github.com/knowhq/sable/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// config holds configuration values
type config struct {
	// Persistence (Firestore); empty project falls back to in-memory
	project  string
	database string

	// LLM
	geminiProject  string
	geminiLocation string
	geminiModel    string

	// Knowledge store (Weaviate); empty host falls back to in-memory
	weaviateHost   string
	weaviateScheme string
	weaviateClass  string

	// Evidence cache (Redis); empty addr disables caching
	redisAddr string

	// Agent profile file (YAML)
	profilePath string

	logLevel string
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID for Firestore checkpoints",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.StringFlag{
			Name:        "weaviate-host",
			Usage:       "Weaviate host (host:port)",
			Sources:     cli.EnvVars("SABLE_WEAVIATE_HOST"),
			Destination: &cfg.weaviateHost,
		},
		&cli.StringFlag{
			Name:        "weaviate-scheme",
			Usage:       "Weaviate scheme",
			Value:       "http",
			Sources:     cli.EnvVars("SABLE_WEAVIATE_SCHEME"),
			Destination: &cfg.weaviateScheme,
		},
		&cli.StringFlag{
			Name:        "weaviate-class",
			Usage:       "Weaviate class holding knowledge facts",
			Value:       retrieval.DefaultFactClass,
			Sources:     cli.EnvVars("SABLE_WEAVIATE_CLASS"),
			Destination: &cfg.weaviateClass,
		},
		&cli.StringFlag{
			Name:        "redis-addr",
			Usage:       "Redis address for the evidence cache (empty disables caching)",
			Sources:     cli.EnvVars("SABLE_REDIS_ADDR"),
			Destination: &cfg.redisAddr,
		},
		&cli.StringFlag{
			Name:        "profile",
			Usage:       "Path to a YAML agent profile",
			Sources:     cli.EnvVars("SABLE_PROFILE"),
			Destination: &cfg.profilePath,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("SABLE_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Generative model name",
			Value:       "gemini-2.5-flash",
			Sources:     cli.EnvVars("GEMINI_MODEL"),
			Destination: &cfg.geminiModel,
		},
	}
}

func (cfg *config) setupLogger(ctx context.Context) context.Context {
	logger := logging.New(cfg.logLevel, os.Stderr)
	logging.SetDefault(logger)
	return logging.With(ctx, logger)
}

// newRepository creates the checkpoint store. Without a project it runs
// on the in-memory store, which does not survive the process.
func (cfg *config) newRepository(ctx context.Context) (repository.Repository, error) {
	if cfg.project == "" {
		logging.From(ctx).Warn("no Firestore project configured, conversations are not durable")
		return repository.NewMemory(), nil
	}
	return repository.New(ctx, cfg.project, cfg.database)
}

// newGemini creates the LLM adapter
func (cfg *config) newGemini(ctx context.Context) (adapter.Gemini, error) {
	return adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation,
		adapter.WithGenerativeModel(cfg.geminiModel))
}

// newStore creates the knowledge store backend
func (cfg *config) newStore(ctx context.Context) (retrieval.KnowledgeStore, error) {
	if cfg.weaviateHost == "" {
		logging.From(ctx).Warn("no Weaviate host configured, using empty in-memory knowledge store")
		return retrieval.NewMemoryStore(), nil
	}
	return retrieval.NewWeaviateStore(cfg.weaviateHost, cfg.weaviateScheme, cfg.weaviateClass)
}

// newMachine assembles the full turn pipeline from the configuration
func (cfg *config) newMachine(ctx context.Context) (*graph.Machine, error) {
	profile, err := loadProfile(cfg.profilePath)
	if err != nil {
		return nil, err
	}

	repo, err := cfg.newRepository(ctx)
	if err != nil {
		return nil, err
	}

	gemini, err := cfg.newGemini(ctx)
	if err != nil {
		return nil, err
	}

	store, err := cfg.newStore(ctx)
	if err != nil {
		return nil, err
	}

	engine, err := policy.New(ctx)
	if err != nil {
		return nil, err
	}

	gatewayOpts := []retrieval.GatewayOption{
		retrieval.WithTopK(profile.TopK),
	}
	if cfg.redisAddr != "" {
		ttl := profile.cacheTTL()
		gatewayOpts = append(gatewayOpts, retrieval.WithCache(retrieval.NewCache(cfg.redisAddr, ttl)))
	}
	gateway := retrieval.NewGateway(store, gatewayOpts...)

	sanitizer, err := sanitize.New()
	if err != nil {
		logging.From(ctx).Error("full PII detector unavailable, using fallback detector", "error", err)
		sanitizer = sanitize.NewFallback()
	}

	registry := tool.New(
		tool.NewKnowledgeSearch(engine, gateway),
		tool.NewCalculator(),
	)

	return graph.New(graph.NewInput{
		Gemini:    gemini,
		Repo:      repo,
		Registry:  registry,
		Sanitizer: sanitizer,
		Grader:    grader.New(gemini),
		Config: graph.Config{
			MaxRetries:   profile.MaxRetries,
			TokenBudget:  profile.TokenBudget,
			CallTimeout:  profile.callTimeout(),
			SystemPrompt: profile.SystemPrompt,
		},
	}), nil
}
