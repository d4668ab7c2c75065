package proxy

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"aiproxy/internal/adapter"
	"aiproxy/internal/config"
	"aiproxy/internal/filter"
	"aiproxy/internal/queue"
	"aiproxy/internal/storage"
)

// App wires the full proxy: store, queue, worker, filters and provider
// routes. Routes are only mounted for providers with credentials.
type App struct {
	Router *Router
	Worker *storage.AccessLogWorker
	DB     *storage.DB
	Queue  queue.Queue
}

// NewApp builds the proxy from configuration and starts the log worker.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := storage.Open(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open access log store: %w", err)
	}

	schema := storage.DefaultSchema()
	schema.WideText = cfg.Database.WideText
	if err := storage.EnsureSchema(ctx, db, schema); err != nil {
		db.Close()
		return nil, err
	}

	var q queue.Queue
	switch cfg.Queue.Backend {
	case "", "memory":
		q = queue.NewMemoryQueue(cfg.Queue.Size)
	case "redis":
		q, err = queue.NewRedisQueue(queue.RedisConfig{
			Addr:      cfg.Queue.RedisAddr,
			Password:  cfg.Queue.RedisPassword,
			DB:        cfg.Queue.RedisDB,
			QueueName: cfg.Queue.RedisName,
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect log queue: %w", err)
		}
	default:
		db.Close()
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}

	worker := storage.NewAccessLogWorker(q, db, schema)
	worker.Start(ctx)

	app := &App{
		Router: NewRouter(q, cfg.Timeout),
		Worker: worker,
		DB:     db,
		Queue:  q,
	}
	app.mountRoutes(cfg)
	return app, nil
}

func (a *App) buildFilters(cfg *config.Config) *filter.Chain {
	chain := filter.NewChain()
	if len(cfg.APIKeyHashes) > 0 {
		chain.AddRequest(filter.NewAPIKeyFilter(cfg.APIKeyHashes))
	}
	chain.AddRequest(filter.NewReplayFilter(a.Worker.Repository()))
	if cfg.RequireUser || len(cfg.BannedUsers) > 0 {
		chain.AddRequest(filter.NewUserFilter(cfg.BannedUsers))
	}
	if len(cfg.ModelOverrides) > 0 {
		chain.AddRequest(filter.NewModelOverrideFilter(cfg.ModelOverrides))
	}
	return chain
}

func (a *App) mountRoutes(cfg *config.Config) {
	filters := a.buildFilters(cfg)

	if key := cfg.OpenAI.APIKey; key != "" {
		a.Router.Handle("/openai/chat/completions", &Route{
			Adapter: adapter.NewOpenAIAdapter(key),
			Filters: filters,
		})
		a.Router.HandlePassthrough("/openai/", &Passthrough{
			BaseURL: "https://api.openai.com/v1",
			Credential: func(h http.Header) {
				h.Set("Authorization", "Bearer "+key)
			},
		})
	}

	if az := cfg.AzureOpenAI; az.APIKey != "" {
		a.Router.Handle("/azure-openai/chat/completions", &Route{
			Adapter: adapter.NewAzureOpenAIAdapter(az.APIKey, az.ResourceName, az.DeploymentID, az.APIVersion),
			Filters: filters,
		})
	}

	if key := cfg.Anthropic.APIKey; key != "" {
		a.Router.Handle("/anthropic/messages", &Route{
			Adapter: adapter.NewAnthropicAdapter(key),
			Filters: filters,
		})
	}

	if key := cfg.Gemini.APIKey; key != "" {
		a.Router.Handle("/googleaistudio/v1beta/models/{rest...}", &Route{
			Adapter: adapter.NewGeminiAdapter(key),
			Filters: filters,
		})
	}

	if bd := cfg.Bedrock; bd.AccessKeyID != "" && bd.SecretAccessKey != "" {
		a.Router.Handle("/bedrock/model/{rest...}", &Route{
			Adapter: adapter.NewBedrockAdapter(bd.AccessKeyID, bd.SecretAccessKey, bd.Region),
			Filters: filters,
		})
		if bd.LegacyClaude {
			a.Router.Handle("/bedrock-legacy/model/{rest...}", &Route{
				Adapter: adapter.NewBedrockLegacyAdapter(bd.AccessKeyID, bd.SecretAccessKey, bd.Region),
				Filters: filters,
			})
		}
	}
}

// Shutdown drains the log worker and releases the store and queue.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.Worker.Stop(ctx)
	if err != nil {
		log.Error().Err(err).Msg("log worker did not stop cleanly")
	}
	if cerr := a.Queue.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if cerr := a.DB.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
