package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/inboxd/internal/adapters/driven/ai"
	"github.com/custodia-labs/inboxd/internal/adapters/driven/config/file"
	"github.com/custodia-labs/inboxd/internal/adapters/driven/credentials/keyring"
	"github.com/custodia-labs/inboxd/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/inboxd/internal/adapters/driving/cli"
	"github.com/custodia-labs/inboxd/internal/adapters/driving/mcp"
	"github.com/custodia-labs/inboxd/internal/adapters/driving/oauth"
	"github.com/custodia-labs/inboxd/internal/adapters/driving/pull"
	"github.com/custodia-labs/inboxd/internal/adapters/driving/webhook"
	"github.com/custodia-labs/inboxd/internal/connectors/google"
	"github.com/custodia-labs/inboxd/internal/connectors/google/gmail"
	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driven"
	"github.com/custodia-labs/inboxd/internal/core/ports/driving"
	"github.com/custodia-labs/inboxd/internal/core/services"
	"github.com/custodia-labs/inboxd/internal/logger"
	"github.com/custodia-labs/inboxd/internal/postprocessors"
	"github.com/custodia-labs/inboxd/internal/postprocessors/chunker"
)

// promptDebounce coalesces editor writes to prompt templates.
const promptDebounce = 500 * time.Millisecond

// app holds the adapters and services shared by every command.
type app struct {
	settings *domain.Settings

	store    *sqlite.Store
	prompts  *file.PromptStore
	vectors  driven.VectorIndex
	models   *ai.Services

	settingsService *services.SettingsService
	accounts        *services.AccountService
	syncEngine      *services.SyncEngine
	viewer          *services.MessageViewer
	watches         *services.WatchService
}

// newApp builds the parts that need no model services. Transform
// adapters are built on first use.
func newApp(ctx context.Context) (*app, error) {
	configStore, err := file.NewConfigStore("")
	if err != nil {
		return nil, fmt.Errorf("opening config: %w", err)
	}
	settingsService := services.NewSettingsService(configStore)
	settings, err := settingsService.Get()
	if err != nil {
		return nil, err
	}

	store, err := sqlite.NewStore(settings.DataDir)
	if err != nil {
		return nil, err
	}

	tokens, err := keyring.Open(keyring.Config{
		FileDir:      "~/.inboxd/keyring",
		FilePassword: os.Getenv("INBOXD_KEYRING_PASSWORD"),
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	// A vector store outage must not block syncing; tombstones are then
	// only recorded locally.
	vectors, err := ai.OpenVectorIndex(ctx, &settings.Vector)
	if err != nil {
		logger.Warn("vector mirror disabled: %v", err)
		vectors = nil
	}

	oauth := google.OAuthConfig(settings.OAuthClientID, settings.OAuthClientSecret)
	providers := gmail.NewFactory(oauth, tokens, settings.Sync)

	a := &app{
		settings:        settings,
		store:           store,
		vectors:         vectors,
		settingsService: settingsService,
		accounts:        services.NewAccountService(store.AccountStore(), tokens, providers),
		viewer:          services.NewMessageViewer(store.MessageStore(), store.LabelStore()),
		watches:         services.NewWatchService(store.AccountStore(), providers, settings.Notifications),
	}
	a.syncEngine = services.NewSyncEngine(services.SyncStores{
		Accounts: store.AccountStore(),
		Cursors:  store.CursorStore(),
		Labels:   store.LabelStore(),
		Messages: store.MessageStore(),
		Events:   store.SyncEventStore(),
	}, providers, vectors, settings.Sync)

	return a, nil
}

func (a *app) cliServices() cli.Services {
	return cli.Services{
		Sync:      a.syncEngine,
		Messages:  a.viewer,
		Accounts:  a.accounts,
		Watches:   a.watches,
		Settings:  a.settingsService,
		Transform: a.transformer,
		Serve:     a.serve,
		Login:     a.login,
	}
}

// login signs a mailbox in through the browser.
func (a *app) login(ctx context.Context) (domain.OAuthCredentials, error) {
	if a.settings.OAuthClientID == "" {
		return domain.OAuthCredentials{}, fmt.Errorf("%w: oauth.client_id is not set", domain.ErrCapabilityMissing)
	}
	cfg := google.OAuthConfig(a.settings.OAuthClientID, a.settings.OAuthClientSecret)
	return oauth.Login(ctx, cfg, func(url string) error {
		fmt.Fprintf(os.Stderr, "Opening %s\n", url)
		if err := oauth.OpenBrowser(url); err != nil {
			logger.Warn("could not open a browser, open the URL above manually: %v", err)
		}
		return nil
	})
}

// transformer builds the transform orchestrator and its model adapters.
func (a *app) transformer(_ context.Context) (driving.TransformOrchestrator, error) {
	if a.models == nil {
		models, err := ai.NewServices(a.settings)
		if err != nil {
			return nil, err
		}
		a.models = models
	}
	if a.prompts == nil {
		prompts, err := file.NewPromptStore("")
		if err != nil {
			return nil, fmt.Errorf("opening prompts: %w", err)
		}
		a.prompts = prompts
	}

	splitter, err := a.splitter()
	if err != nil {
		return nil, err
	}

	svc := a.models
	stages := services.TransformStages{
		Classifier: services.NewClassifier(svc.LLM, svc.LLM, a.prompts, a.settings.Classifier),
		Sanitizer:  services.NewSanitizer(svc.Detector, svc.Recognizer, a.settings.NLP),
		Embedder:   services.NewEmbedder(svc.Embeddings, svc.Embeddings, splitter, a.settings.Embedding),
	}
	stores := services.TransformStores{
		Messages:   a.store.MessageStore(),
		Transforms: a.store.TransformStore(),
		Labels:     a.store.LabelStore(),
	}
	return services.NewOrchestrator(stores, stages, svc.Embeddings, svc.LLM, a.vectors, *a.settings), nil
}

// splitter builds the chunk splitter, counting with the embedding
// model's tokenizer when it answers.
func (a *app) splitter() (driven.TextSplitter, error) {
	embeddings := a.models.Embeddings
	count := chunker.CountFunc(func(text string) int {
		n, err := embeddings.CountTokens(context.Background(), text)
		if err != nil {
			return chunker.EstimateTokens(text)
		}
		return n
	})

	registry := postprocessors.NewRegistry()
	postprocessors.RegisterDefaults(registry)
	return registry.Build("paragraph", map[string]any{
		"target_tokens": a.settings.Embedding.ChunkTargetTokens,
		"counter":       count,
	})
}

// serve runs the push webhook, the pull subscriber, the notification
// bridge and the scheduler until ctx is cancelled.
func (a *app) serve(ctx context.Context) error {
	notifications := a.settings.Notifications
	if notifications.ListenAddr == "" && notifications.Subscription == "" {
		return fmt.Errorf("%w: set notifications.listen_addr or notifications.subscription", domain.ErrCapabilityMissing)
	}

	// Without model services the daemon still syncs; transforms wait
	// until the configuration is complete.
	var transformer driving.TransformOrchestrator
	if t, err := a.transformer(ctx); err != nil {
		logger.Warn("transforms disabled: %v", err)
	} else {
		transformer = t
	}

	bridge := services.NewBridge(a.store.AccountStore(), a.syncEngine, transformer, notifications.SettleDelay)
	scheduler := services.NewScheduler(a.settings.Scheduler, a.store.TaskHistoryStore(), services.SchedulerTasks{
		Watches:     a.watches,
		Syncer:      a.syncEngine,
		Transformer: transformer,
	})

	var server *webhook.Server
	if notifications.ListenAddr != "" {
		mcpServer, err := mcp.NewServer(&mcp.Ports{Messages: a.viewer, Accounts: a.accounts})
		if err != nil {
			return err
		}
		server = webhook.NewServer(bridge, webhook.Config{
			Token: notifications.PushToken,
			MCP:   mcpServer.Handler(),
		})
	}

	var subscriber *pull.Subscriber
	if notifications.Subscription != "" {
		var err error
		subscriber, err = pull.NewSubscriber(ctx, bridge, pull.Config{
			ProjectID:       notifications.ProjectID,
			Subscription:    notifications.Subscription,
			CredentialsFile: notifications.CredentialsFile,
		})
		if err != nil {
			return err
		}
		defer subscriber.Close()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bridge.Run(ctx) })
	g.Go(func() error { return scheduler.Start(ctx) })
	if a.prompts != nil {
		g.Go(func() error { return a.prompts.Watch(ctx, promptDebounce) })
	}
	if server != nil {
		g.Go(func() error { return server.Run(ctx, notifications.ListenAddr) })
	}
	if subscriber != nil {
		g.Go(func() error { return subscriber.Run(ctx) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the store and model service connections.
func (a *app) Close() error {
	var errs []error
	if a.models != nil {
		errs = append(errs, a.models.Close())
	}
	if closer, ok := a.vectors.(interface{ Close() error }); ok {
		errs = append(errs, closer.Close())
	}
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}
