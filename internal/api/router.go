// Package api is the HTTP surface of the chat service.
package api

import (
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"senteros-chat/internal/assistant"
	"senteros-chat/internal/attachment"
	"senteros-chat/internal/auth"
	"senteros-chat/internal/chat"
	"senteros-chat/internal/db"
	"senteros-chat/internal/kv"
	"senteros-chat/internal/locale"
	"senteros-chat/internal/memory"
	"senteros-chat/internal/voice"
)

// Deps are the services the router exposes. Nil optional services turn
// their routes off.
type Deps struct {
	DB          *db.DB
	KV          *kv.Store
	Auth        *auth.Service
	Sessions    *chat.Sessions
	Broadcaster *EventBroadcaster
	Catalog     *locale.Catalog
	Quota       *assistant.Quota

	// Optional
	Memory          *memory.Store
	MemoryThreshold float64
	Attachments     *attachment.Pipeline
	Avatars         *attachment.Pipeline
	Recorder        *voice.Recorder

	StaticDir           string
	AllowedOrigins      []string
	SubmitRatePerMinute int
	OfflineCacheName    string
	SecureCookies       bool
}

// Router holds the HTTP multiplexer and dependencies
type Router struct {
	mux         chi.Router
	broadcaster *EventBroadcaster
	attachments *attachment.Pipeline
	staticDir   string
}

// NewRouter creates a new router with all routes configured
func NewRouter(deps Deps) *Router {
	if deps.Broadcaster == nil {
		deps.Broadcaster = NewEventBroadcaster()
	}
	if deps.Catalog == nil {
		deps.Catalog = locale.MustLoad()
	}
	if len(deps.AllowedOrigins) == 0 {
		deps.AllowedOrigins = []string{"*"}
	}

	r := &Router{
		mux:         chi.NewRouter(),
		broadcaster: deps.Broadcaster,
		attachments: uploadPipeline(deps.Attachments, deps.Avatars),
		staticDir:   deps.StaticDir,
	}
	r.setupRoutes(deps)
	return r
}

// setupRoutes configures all HTTP routes
func (r *Router) setupRoutes(deps Deps) {
	l := &localizer{catalog: deps.Catalog, kv: deps.KV}

	var maxUpload int64
	if deps.Attachments != nil {
		maxUpload = deps.Attachments.MaxBytes()
	}

	authHandler := NewAuthHandler(deps.Auth, deps.SecureCookies)
	profileHandler := NewProfileHandler(deps.Auth, deps.Catalog)
	conversationHandler := NewConversationHandler(deps.DB, deps.Sessions)
	sessionHandler := NewSessionHandler(deps.Sessions, l, deps.SubmitRatePerMinute, maxUpload)
	eventsHandler := NewSessionEventsHandler(deps.Broadcaster, deps.Sessions)
	socketHandler := NewSessionSocketHandler(deps.Broadcaster, deps.Sessions, deps.AllowedOrigins)
	settingsHandler := &SettingsHandler{kv: deps.KV, localizer: l}
	usageHandler := &UsageHandler{quota: deps.Quota}
	localeHandler := &LocaleHandler{localizer: l}
	offlineHandler := NewOfflineHandler(deps.OfflineCacheName, nil, l)

	m := r.mux
	m.Use(middleware.RequestID)
	m.Use(middleware.RealIP)
	m.Use(requestLogger)
	m.Use(middleware.Recoverer)
	m.Use(middleware.Heartbeat("/ping"))
	m.Use(cors(deps.AllowedOrigins))
	m.Use(deps.Auth.Middleware)

	m.Get("/health", HealthHandler)
	m.Get("/service-worker.js", offlineHandler.ServeHTTP)

	m.Route("/api", func(api chi.Router) {
		api.Post("/auth/signup", authHandler.SignUp)
		api.Post("/auth/signin", authHandler.SignIn)
		api.Post("/auth/signout", authHandler.SignOut)

		api.Get("/locales", localeHandler.List)
		api.Get("/locales/{lang}", localeHandler.Get)

		api.Group(func(user chi.Router) {
			user.Use(auth.RequireUser)

			user.Get("/profile", profileHandler.Get)
			user.Put("/profile", profileHandler.Update)
			if deps.Avatars != nil {
				avatarHandler := NewAvatarHandler(profileHandler, deps.Avatars, l)
				user.Post("/profile/avatar", avatarHandler.Upload)
			}

			user.Get("/conversations", conversationHandler.List)
			user.Get("/conversations/{id}", conversationHandler.Get)
			user.Get("/conversations/{id}/turns", conversationHandler.Turns)
			user.Patch("/conversations/{id}", conversationHandler.Rename)
			user.Delete("/conversations/{id}", conversationHandler.Delete)

			user.Get("/session", sessionHandler.Get)
			user.Post("/session/new", sessionHandler.New)
			user.Post("/session/open", sessionHandler.Open)
			user.Post("/session/turns", sessionHandler.Submit)
			user.Post("/session/stop", sessionHandler.Stop)
			user.Get("/session/events", eventsHandler.HandleEvents)
			user.Get("/session/ws", socketHandler.ServeHTTP)

			if deps.Memory != nil {
				memoryHandler := NewMemoryHandler(deps.Memory, deps.MemoryThreshold)
				user.Get("/memory", memoryHandler.List)
				user.Post("/memory", memoryHandler.Add)
				user.Post("/memory/analyze", memoryHandler.Analyze)
				user.Delete("/memory", memoryHandler.Clear)
				user.Delete("/memory/{id}", memoryHandler.Remove)
			}

			user.Get("/usage", usageHandler.Get)
			user.Get("/settings", settingsHandler.Get)
			user.Put("/settings", settingsHandler.Update)

			if deps.Recorder != nil {
				voiceHandler := NewVoiceHandler(deps.Recorder, l, 0)
				user.Post("/voice/transcribe", voiceHandler.Transcribe)
				user.Post("/voice/speech", voiceHandler.Speech)
			}
		})
	})

	if r.attachments != nil {
		m.Get(attachment.DefaultPublicPrefix+"*", r.serveUpload)
	}

	// Static file serving (for frontend)
	if r.staticDir != "" {
		m.Get("/*", r.serveStatic)
	}
}

// uploadPipeline returns the first pipeline that writes files to disk
func uploadPipeline(pipelines ...*attachment.Pipeline) *attachment.Pipeline {
	for _, p := range pipelines {
		if p != nil && p.Mode() == attachment.ModeUpload {
			return p
		}
	}
	return nil
}

// serveUpload serves a stored attachment
func (r *Router) serveUpload(w http.ResponseWriter, req *http.Request) {
	filePath, err := r.attachments.Path(req.URL.Path)
	if err != nil {
		http.NotFound(w, req)
		return
	}
	if info, err := os.Stat(filePath); err != nil || info.IsDir() {
		http.NotFound(w, req)
		return
	}
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeFile(w, req, filePath)
}

// serveStatic serves static files from the static directory
func (r *Router) serveStatic(w http.ResponseWriter, req *http.Request) {
	path := req.URL.Path
	if path == "/" {
		path = "/index.html"
	}

	filePath := filepath.Join(r.staticDir, filepath.FromSlash(filepath.Clean("/"+path)))

	// Serve index.html for SPA routing
	if info, err := os.Stat(filePath); err != nil || info.IsDir() {
		filePath = filepath.Join(r.staticDir, "index.html")
	}

	http.ServeFile(w, req, filePath)
}

// ServeHTTP implements the http.Handler interface
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// GetBroadcaster returns the event broadcaster
func (r *Router) GetBroadcaster() *EventBroadcaster {
	return r.broadcaster
}

// requestLogger logs API requests; streams are logged by their handlers
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		path := req.URL.Path
		shouldLog := strings.HasPrefix(path, "/api/") &&
			!strings.HasSuffix(path, "/events") && !strings.HasSuffix(path, "/ws")
		if !shouldLog {
			next.ServeHTTP(w, req)
			return
		}

		start := time.Now()
		requestID := middleware.GetReqID(req.Context())
		log.Printf("[HTTP] Request started method=%s path=%s request_id=%s", req.Method, path, requestID)

		wrapped := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(wrapped, req)

		status := wrapped.Status()
		if status == 0 {
			status = http.StatusOK
		}
		log.Printf("[HTTP] Request completed method=%s path=%s status=%d duration=%v request_id=%s",
			req.Method, path, status, time.Since(start), requestID)
	})
}

// cors answers preflight requests and sets CORS headers for allowed origins.
// Credentials are only allowed for explicitly listed origins.
func cors(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			origin := req.Header.Get("Origin")

			allowed, explicit := false, false
			for _, o := range allowedOrigins {
				if o == "*" {
					allowed = true
				}
				if o == origin && origin != "" {
					allowed, explicit = true, true
				}
			}

			if allowed {
				if origin == "" || !explicit {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Credentials", "true")
					w.Header().Add("Vary", "Origin")
				}
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			}

			if req.Method == http.MethodOptions {
				log.Printf("[HTTP] CORS preflight method=OPTIONS path=%s", req.URL.Path)
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, req)
		})
	}
}
