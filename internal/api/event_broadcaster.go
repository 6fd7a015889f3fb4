package api

import (
	"encoding/json"
	"log"
	"sync"
)

// clientBuffer は遅いクライアントが遅れてよいイベント数
const clientBuffer = 64

// Event はServer-Sent Eventを表す
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// EventBroadcaster はオーナーごとの接続クライアントにセッションイベントを配信する
type EventBroadcaster struct {
	mu      sync.RWMutex
	clients map[string]map[chan Event]struct{} // owner -> クライアント
}

// NewEventBroadcaster は新しいイベントブロードキャスターを作成する
func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{
		clients: make(map[string]map[chan Event]struct{}),
	}
}

// Subscribe はオーナーのイベントを受信するクライアントを追加する
func (b *EventBroadcaster) Subscribe(owner string) chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, clientBuffer)

	if b.clients[owner] == nil {
		b.clients[owner] = make(map[chan Event]struct{})
	}
	b.clients[owner][ch] = struct{}{}

	log.Printf("[SSE] Client subscribed owner=%s total_clients=%d", owner, len(b.clients[owner]))
	return ch
}

// Unsubscribe はクライアントを削除し、チャネルを閉じる
func (b *EventBroadcaster) Unsubscribe(owner string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if clients, ok := b.clients[owner]; ok {
		if _, subscribed := clients[ch]; subscribed {
			delete(clients, ch)
			close(ch)
		}
		if len(clients) == 0 {
			delete(b.clients, owner)
		}
	}

	log.Printf("[SSE] Client unsubscribed owner=%s", owner)
}

// Broadcast はオーナーのすべてのクライアントにイベントを送信する。
// バッファが満杯のクライアントはそのイベントを受け取らない。
func (b *EventBroadcaster) Broadcast(owner string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	clients := b.clients[owner]
	if len(clients) == 0 {
		return
	}

	for ch := range clients {
		select {
		case ch <- event:
		default:
			// クライアントチャネルが満杯の場合、スキップ
			log.Printf("[SSE] Client channel full, skipping event type=%s owner=%s", event.Type, owner)
		}
	}
}

// Publish は chat.Publisher を実装する
func (b *EventBroadcaster) Publish(owner, eventType string, data any) {
	b.Broadcast(owner, Event{Type: eventType, Data: data})
}

// ClientCount はオーナーに購読しているクライアント数を返す
func (b *EventBroadcaster) ClientCount(owner string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[owner])
}

// TotalClientCount は全オーナーの合計クライアント数を返す
func (b *EventBroadcaster) TotalClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, clients := range b.clients {
		total += len(clients)
	}
	return total
}

// Close はすべてのクライアントを切断する
func (b *EventBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for owner, clients := range b.clients {
		for ch := range clients {
			close(ch)
		}
		delete(b.clients, owner)
	}
	log.Println("[SSE] Broadcaster closed")
}

// FormatSSE はイベントをSSE形式にフォーマットする
func FormatSSE(event Event) ([]byte, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return nil, err
	}
	return []byte("event: " + event.Type + "\ndata: " + string(data) + "\n\n"), nil
}
