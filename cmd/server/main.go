package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"senteros-chat/internal/api"
	"senteros-chat/internal/assistant"
	"senteros-chat/internal/attachment"
	"senteros-chat/internal/auth"
	"senteros-chat/internal/chat"
	"senteros-chat/internal/config"
	"senteros-chat/internal/db"
	"senteros-chat/internal/kv"
	"senteros-chat/internal/locale"
	"senteros-chat/internal/memory"
	"senteros-chat/internal/voice"
	"senteros-chat/internal/watcher"
)

const (
	sweepInterval = time.Minute
	purgeInterval = time.Hour
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Ensure data directories exist
	for _, dir := range []string{filepath.Dir(cfg.DBPath), filepath.Dir(cfg.KVPath)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("Failed to create data directory: %v", err)
		}
	}

	database, err := db.NewDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	log.Println("Database migrated successfully")

	store, err := kv.Open(cfg.KVPath)
	if err != nil {
		log.Fatalf("Failed to open key-value store: %v", err)
	}
	defer store.Close()

	catalog := locale.MustLoad()
	memories := memory.NewStore(store, catalog)

	var memorySource assistant.MemorySource
	if cfg.Features.Memory && cfg.MemoryInPrompt {
		memorySource = memories
	}
	profiles := assistant.NewProfileContext(store, catalog, memorySource)
	quota := assistant.NewQuota(store, cfg.DailyRequestLimit, cfg.DailyAttachmentLimit)

	var attachments, avatars *attachment.Pipeline
	if cfg.Features.Attachments {
		attachments, err = attachment.New(attachment.Options{
			Mode:     attachment.Mode(cfg.AttachmentMode),
			Dir:      cfg.UploadDir,
			MaxBytes: cfg.AttachmentMaxBytes,
		})
		if err != nil {
			log.Fatalf("Failed to initialize attachments: %v", err)
		}
		avatars = attachments.WithPrefix(attachment.AvatarPrefix)
		log.Printf("Attachments enabled mode=%s max_bytes=%d", cfg.AttachmentMode, cfg.AttachmentMaxBytes)
	}

	backends := completionBackends(cfg)
	if len(backends) == 0 {
		log.Println("Warning: no provider API keys configured, completions will fail")
	}

	opts := []assistant.ClientOption{
		assistant.WithQuota(quota),
		assistant.WithContextSource(profiles),
		assistant.WithLocaleSource(profiles),
		assistant.WithCatalog(catalog),
	}
	if attachments != nil {
		opts = append(opts, assistant.WithImageResolver(attachments.Resolve))
	}
	client := assistant.NewClient(backends, opts...)
	log.Printf("Completion client initialized backends=%d", len(backends))

	broadcaster := api.NewEventBroadcaster()

	chatCfg := chat.Config{
		Store:       database,
		Completer:   client,
		Publisher:   broadcaster,
		Catalog:     catalog,
		Locales:     profiles,
		Memory:      cfg.Features.Memory,
		IdleTimeout: cfg.SessionIdleTimeout,
	}
	// A nil *attachment.Pipeline must not become a non-nil Preparer
	if attachments != nil {
		chatCfg.Attachments = attachments
	}
	sessions := chat.NewSessions(chatCfg)
	sessions.Start(sweepInterval)

	authService := auth.NewService(database, store, cfg.SessionTTL)

	var recorder *voice.Recorder
	if cfg.Features.Voice {
		recorder = voice.NewRecorder(filepath.Join(cfg.UploadDir, "voice"), voice.DefaultMaxCaptureBytes)
	}

	personaWatcher := watcher.NewPersonaWatcher(cfg.PersonaPath(), client, watcher.DefaultDebounce)
	if err := personaWatcher.Start(); err != nil {
		log.Printf("Warning: Failed to watch persona file path=%s err=%v", cfg.PersonaPath(), err)
	}

	stopPurge := make(chan struct{})
	go purgeSessions(authService, stopPurge)

	deps := api.Deps{
		DB:                  database,
		KV:                  store,
		Auth:                authService,
		Sessions:            sessions,
		Broadcaster:         broadcaster,
		Catalog:             catalog,
		Quota:               quota,
		Attachments:         attachments,
		Avatars:             avatars,
		Recorder:            recorder,
		StaticDir:           cfg.StaticDir,
		AllowedOrigins:      cfg.AllowedOrigins,
		SubmitRatePerMinute: cfg.SubmitRatePerMinute,
		OfflineCacheName:    cfg.OfflineCacheName,
		SecureCookies:       strings.HasPrefix(cfg.SiteURL, "https://"),
	}
	if cfg.Features.Memory {
		deps.Memory = memories
		deps.MemoryThreshold = memory.DefaultThreshold
	}
	router := api.NewRouter(deps)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Handle graceful shutdown
	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Server is shutting down...")

		personaWatcher.Stop()
		close(stopPurge)

		// Sessions first so running reveals stop publishing
		sessions.Shutdown()
		broadcaster.Close()
		if recorder != nil {
			recorder.Shutdown()
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}

		close(done)
	}()

	log.Printf("Server starting on port %s", cfg.Port)
	log.Printf("Static files served from: %s", cfg.StaticDir)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed to start: %v", err)
	}

	<-done
	log.Println("Server stopped gracefully")
}

// completionBackends builds the backend table from provider credentials.
// Providers without a key are left out.
func completionBackends(cfg *config.Config) map[string]assistant.Backend {
	backends := make(map[string]assistant.Backend)

	if p := cfg.Providers.Mistral; p.APIKey != "" {
		backends[assistant.BackendMistral] = assistant.Backend{
			BaseURL: orDefault(p.BaseURL, assistant.MistralBaseURL),
			APIKey:  p.APIKey,
		}
	}
	if p := cfg.Providers.OpenRouter; p.APIKey != "" {
		backends[assistant.BackendOpenRouter] = assistant.Backend{
			BaseURL: orDefault(p.BaseURL, assistant.OpenRouterBaseURL),
			APIKey:  p.APIKey,
			Headers: map[string]string{
				"HTTP-Referer": cfg.SiteURL,
				"X-Title":      cfg.SiteName,
			},
		}
	}
	return backends
}

func purgeSessions(service *auth.Service, stop <-chan struct{}) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			n, err := service.PurgeExpired()
			if err != nil {
				log.Printf("[Auth] PurgeExpired failed err=%v", err)
				continue
			}
			if n > 0 {
				log.Printf("[Auth] PurgeExpired completed removed=%d", n)
			}
		}
	}
}

func orDefault(value, def string) string {
	if value != "" {
		return value
	}
	return def
}
