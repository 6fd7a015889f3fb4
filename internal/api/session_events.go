package api

import (
	"log"
	"net/http"
	"time"

	"senteros-chat/internal/auth"
	"senteros-chat/internal/chat"
)

// keepAliveInterval keeps idle proxies from dropping the stream
const keepAliveInterval = 25 * time.Second

// SessionEventsHandler はユーザーのセッションイベントのSSE接続を処理する
type SessionEventsHandler struct {
	broadcaster *EventBroadcaster
	sessions    *chat.Sessions
}

// NewSessionEventsHandler は新しいハンドラーを作成する
func NewSessionEventsHandler(broadcaster *EventBroadcaster, sessions *chat.Sessions) *SessionEventsHandler {
	return &SessionEventsHandler{
		broadcaster: broadcaster,
		sessions:    sessions,
	}
}

// HandleEvents は GET /api/session/events を処理する
func (h *SessionEventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	owner := auth.Owner(r.Context())
	session, err := h.sessions.Get(owner)
	if err != nil {
		log.Printf("[SSE] Rejecting connection err=%v", err)
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	log.Printf("[SSE] New connection request owner=%s", owner)

	// SSEヘッダーを設定
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginxバッファリングを無効化

	flusher, ok := w.(http.Flusher)
	if !ok {
		log.Printf("[SSE] Streaming not supported")
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	session.Attach()
	defer session.Detach()

	// イベントを購読
	eventCh := h.broadcaster.Subscribe(owner)
	defer h.broadcaster.Unsubscribe(owner, eventCh)

	if _, err := w.Write([]byte("event: connected\ndata: {}\n\n")); err != nil {
		log.Printf("[SSE] Failed to send connected event err=%v", err)
		return
	}
	// 再接続したクライアントは現在の状態から同期し直す
	if data, err := FormatSSE(Event{Type: chat.EventState, Data: session.Snapshot()}); err == nil {
		if _, err := w.Write(data); err != nil {
			log.Printf("[SSE] Failed to send state event err=%v", err)
			return
		}
	}
	flusher.Flush()

	log.Printf("[SSE] Client connected owner=%s", owner)

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[SSE] Client disconnected owner=%s", owner)
			return
		case <-keepAlive.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				log.Printf("[SSE] Failed to write keepalive err=%v", err)
				return
			}
			flusher.Flush()
		case event, ok := <-eventCh:
			if !ok {
				log.Printf("[SSE] Event channel closed owner=%s", owner)
				return
			}
			data, err := FormatSSE(event)
			if err != nil {
				log.Printf("[SSE] Failed to format event err=%v", err)
				continue
			}
			if _, err := w.Write(data); err != nil {
				log.Printf("[SSE] Failed to write event err=%v", err)
				return
			}
			flusher.Flush()
		}
	}
}
