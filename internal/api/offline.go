package api

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"text/template"

	"senteros-chat/internal/locale"
)

// DefaultPrecache is the app shell cached on install
var DefaultPrecache = []string{
	"/",
	"/index.html",
	"/manifest.json",
	"/favicon.ico",
	"/icons/icon-192x192.png",
	"/icons/icon-512x512.png",
	"/icons/maskable-icon.png",
}

var serviceWorkerTemplate = template.Must(template.New("service-worker.js").Parse(`// Generated by senteros-chat
const CACHE_NAME = {{.CacheName}};
const urlsToCache = {{.Precache}};
const OFFLINE_TEXT = {{.OfflineText}};

self.addEventListener('install', (event) => {
  event.waitUntil(
    caches.open(CACHE_NAME)
      .then((cache) => cache.addAll(urlsToCache))
      .catch((err) => console.error('Cache installation failed:', err))
  );
});

self.addEventListener('activate', (event) => {
  event.waitUntil(
    caches.keys().then((names) => Promise.all(
      names.filter((name) => name !== CACHE_NAME).map((name) => caches.delete(name))
    ))
  );
});

self.addEventListener('fetch', (event) => {
  const request = event.request;
  if (request.method !== 'GET') {
    return;
  }
  event.respondWith(
    caches.match(request).then((cached) => {
      if (cached) {
        return cached;
      }
      return fetch(request.clone()).then((response) => {
        if (!response || response.status !== 200 || response.type !== 'basic') {
          return response;
        }
        if (!new URL(request.url).pathname.startsWith('/api/')) {
          const copy = response.clone();
          caches.open(CACHE_NAME).then((cache) => cache.put(request, copy));
        }
        return response;
      }).catch(() => new Response(OFFLINE_TEXT, {
        headers: { 'Content-Type': 'text/plain; charset=utf-8' }
      }));
    })
  );
});
`))

// OfflineHandler renders the service worker that caches the app shell
type OfflineHandler struct {
	cacheName string
	precache  []string
	localizer *localizer
}

// NewOfflineHandler creates the handler. A nil precache uses DefaultPrecache.
func NewOfflineHandler(cacheName string, precache []string, l *localizer) *OfflineHandler {
	if precache == nil {
		precache = DefaultPrecache
	}
	return &OfflineHandler{cacheName: cacheName, precache: precache, localizer: l}
}

// jsLiteral renders v as a JavaScript literal
func jsLiteral(v any) (string, error) {
	b, err := json.Marshal(v)
	return string(b), err
}

// Render produces the script with the fallback text in lang
func (h *OfflineHandler) Render(lang string) ([]byte, error) {
	cacheName, err := jsLiteral(h.cacheName)
	if err != nil {
		return nil, err
	}
	precache, err := jsLiteral(h.precache)
	if err != nil {
		return nil, err
	}
	offline, err := jsLiteral(h.localizer.catalog.Text(lang, locale.Offline))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	err = serviceWorkerTemplate.Execute(&buf, map[string]string{
		"CacheName":   cacheName,
		"Precache":    precache,
		"OfflineText": offline,
	})
	return buf.Bytes(), err
}

// ServeHTTP handles GET /service-worker.js
func (h *OfflineHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	script, err := h.Render(h.localizer.lang(r))
	if err != nil {
		log.Printf("[API] Render service worker failed err=%v", err)
		http.Error(w, "Failed to render service worker", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Service-Worker-Allowed", "/")
	w.Write(script)
}
