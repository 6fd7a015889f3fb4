package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"senteros-chat/internal/auth"
	"senteros-chat/internal/chat"
)

const wsWriteTimeout = 10 * time.Second

// wsCommand is a client message on the session socket
type wsCommand struct {
	Type string `json:"type"`
}

// SessionSocketHandler carries the session event stream over a websocket and
// accepts stop commands from the client
type SessionSocketHandler struct {
	broadcaster    *EventBroadcaster
	sessions       *chat.Sessions
	originPatterns []string
}

// NewSessionSocketHandler creates the handler. originPatterns follow
// websocket.AcceptOptions; "*" accepts any origin.
func NewSessionSocketHandler(broadcaster *EventBroadcaster, sessions *chat.Sessions, originPatterns []string) *SessionSocketHandler {
	return &SessionSocketHandler{
		broadcaster:    broadcaster,
		sessions:       sessions,
		originPatterns: originPatterns,
	}
}

// ServeHTTP handles GET /api/session/ws
func (h *SessionSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	owner := auth.Owner(r.Context())
	session, err := h.sessions.Get(owner)
	if err != nil {
		log.Printf("[WS] Rejecting connection err=%v", err)
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		log.Printf("[WS] Failed to accept websocket owner=%s err=%v", owner, err)
		return
	}
	defer conn.CloseNow()

	log.Printf("[WS] Client connected owner=%s", owner)

	session.Attach()
	defer session.Detach()

	eventCh := h.broadcaster.Subscribe(owner)
	defer h.broadcaster.Unsubscribe(owner, eventCh)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		h.readLoop(ctx, conn, owner)
	}()

	if err := h.write(ctx, conn, Event{Type: chat.EventState, Data: session.Snapshot()}); err != nil {
		log.Printf("[WS] Failed to send state owner=%s err=%v", owner, err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			log.Printf("[WS] Client disconnected owner=%s", owner)
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case event, ok := <-eventCh:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := h.write(ctx, conn, event); err != nil {
				log.Printf("[WS] Failed to write event owner=%s err=%v", owner, err)
				return
			}
		}
	}
}

func (h *SessionSocketHandler) write(ctx context.Context, conn *websocket.Conn, event Event) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, event)
}

// readLoop applies client commands. The session is looked up per command so
// a command always reaches the session HTTP submits are using.
func (h *SessionSocketHandler) readLoop(ctx context.Context, conn *websocket.Conn, owner string) {
	for {
		var cmd wsCommand
		if err := wsjson.Read(ctx, conn, &cmd); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				log.Printf("[WS] Read failed owner=%s err=%v", owner, err)
			}
			return
		}

		session, err := h.sessions.Get(owner)
		if err != nil {
			log.Printf("[WS] Dropping command owner=%s type=%q err=%v", owner, cmd.Type, err)
			return
		}

		switch cmd.Type {
		case "stop":
			session.Stop()
		case "new_chat":
			session.NewChat()
		default:
			log.Printf("[WS] Ignoring unknown command owner=%s type=%q", owner, cmd.Type)
		}
	}
}
