package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// TitleInstructionPrefix starts the system message of title requests
const TitleInstructionPrefix = "Generate a short, concise title"

// Reply is one scripted response of the fake completion endpoint
type Reply struct {
	Status  int
	Content string
	// Body overrides the generated JSON body
	Body string
	// Wait blocks the response until closed
	Wait <-chan struct{}
}

// CompletionMessage is a decoded request message
type CompletionMessage struct {
	Role     string
	Content  string
	HasImage bool
}

// CompletionRequest is a decoded request
type CompletionRequest struct {
	Model       string
	Messages    []CompletionMessage
	MaxTokens   int
	Temperature float64
	Auth        string
}

// IsTitle reports whether the request asks for a conversation title
func (r CompletionRequest) IsTitle() bool {
	return len(r.Messages) > 0 && strings.HasPrefix(r.Messages[0].Content, TitleInstructionPrefix)
}

// FakeCompletion emulates an OpenAI-compatible chat completions endpoint.
// Chat requests consume queued replies, falling back to the default reply.
// Title requests always get the title reply.
type FakeCompletion struct {
	Server *httptest.Server

	mu       sync.Mutex
	queue    []Reply
	fallback Reply
	title    Reply
	requests []CompletionRequest
}

// NewFakeCompletion starts a fake endpoint closed on cleanup.
// By default chats answer "Hi there!" and titles "Generated Title".
func NewFakeCompletion(t *testing.T) *FakeCompletion {
	t.Helper()
	f := &FakeCompletion{
		fallback: Reply{Status: http.StatusOK, Content: "Hi there!"},
		title:    Reply{Status: http.StatusOK, Content: "Generated Title"},
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Server.Close)
	return f
}

// URL is the base URL to configure as a backend
func (f *FakeCompletion) URL() string {
	return f.Server.URL
}

// Enqueue adds replies for upcoming chat requests
func (f *FakeCompletion) Enqueue(replies ...Reply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, replies...)
}

// SetDefault replaces the reply used when the queue is empty
func (f *FakeCompletion) SetDefault(r Reply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallback = r
}

// SetTitle replaces the reply for title requests
func (f *FakeCompletion) SetTitle(r Reply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.title = r
}

// Requests returns every request received so far
func (f *FakeCompletion) Requests() []CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]CompletionRequest(nil), f.requests...)
}

// ChatRequests returns the requests that were not title requests
func (f *FakeCompletion) ChatRequests() []CompletionRequest {
	var out []CompletionRequest
	for _, r := range f.Requests() {
		if !r.IsTitle() {
			out = append(out, r)
		}
	}
	return out
}

func (f *FakeCompletion) serve(w http.ResponseWriter, r *http.Request) {
	var raw struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
		MaxTokens   int     `json:"max_tokens"`
		Temperature float64 `json:"temperature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	req := CompletionRequest{
		Model:       raw.Model,
		MaxTokens:   raw.MaxTokens,
		Temperature: raw.Temperature,
		Auth:        r.Header.Get("Authorization"),
	}
	for _, m := range raw.Messages {
		req.Messages = append(req.Messages, decodeMessage(m.Role, m.Content))
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	var reply Reply
	switch {
	case req.IsTitle():
		reply = f.title
	case len(f.queue) > 0:
		reply = f.queue[0]
		f.queue = f.queue[1:]
	default:
		reply = f.fallback
	}
	f.mu.Unlock()

	if reply.Wait != nil {
		select {
		case <-reply.Wait:
		case <-r.Context().Done():
			return
		}
	}

	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	body := reply.Body
	if body == "" {
		if status >= 300 {
			body = `{"error":{"message":"fake failure"}}`
		} else {
			data, _ := json.Marshal(map[string]any{
				"id":      "cmpl-test",
				"object":  "chat.completion",
				"created": 1700000000,
				"model":   req.Model,
				"choices": []map[string]any{{
					"index":         0,
					"finish_reason": "stop",
					"message":       map[string]any{"role": "assistant", "content": reply.Content},
				}},
			})
			body = string(data)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

func decodeMessage(role string, content json.RawMessage) CompletionMessage {
	msg := CompletionMessage{Role: role}
	if json.Unmarshal(content, &msg.Content) == nil {
		return msg
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if json.Unmarshal(content, &parts) == nil {
		var texts []string
		for _, p := range parts {
			switch p.Type {
			case "text":
				texts = append(texts, p.Text)
			case "image_url":
				msg.HasImage = true
			}
		}
		msg.Content = strings.Join(texts, "\n")
	}
	return msg
}
