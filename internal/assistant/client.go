// Package assistant talks to the hosted completion endpoints: it builds the
// persona prompt, picks a backend and model, enforces daily quotas and asks
// for conversation titles.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"senteros-chat/internal/locale"
	"senteros-chat/internal/logic"
	"senteros-chat/internal/models"
)

const (
	BackendMistral    = "mistral"
	BackendOpenRouter = "openrouter"

	MistralBaseURL    = "https://api.mistral.ai/v1"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"

	DefaultTextModel   = "mistral-small-latest"
	DefaultVisionModel = "openrouter/optimus-alpha"

	defaultTimeout = 60 * time.Second

	titleInstruction = "Generate a short, concise title (3-5 words) for this conversation. Return ONLY the title text without quotes or explanation."
	titleTurns       = 4
	titleMaxTokens   = 30
	titleTemperature = 0.5

	genericFailure = "Failed to generate completion"
)

var (
	// ErrCompletionFailed is the category of every completion error
	ErrCompletionFailed = errors.New("completion failed")
	// ErrNoResponse is returned when a successful response carries no choices
	ErrNoResponse = &APIError{StatusCode: http.StatusOK, Message: "No response data received from API"}
)

// APIError describes a failed completion request
type APIError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	return e.Message
}

// Unwrap exposes ErrCompletionFailed and the transport error, if any
func (e *APIError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrCompletionFailed, e.Err}
	}
	return []error{ErrCompletionFailed}
}

// Backend is an OpenAI-compatible endpoint
type Backend struct {
	BaseURL string
	APIKey  string
	Headers map[string]string
}

// DefaultPolicy routes text to Mistral and image turns to OpenRouter
func DefaultPolicy() AttachmentPolicy {
	return AttachmentPolicy{
		Text: Route{
			Backend:     BackendMistral,
			Model:       DefaultTextModel,
			MaxTokens:   2048,
			Temperature: 0.7,
		},
		Vision: Route{
			Backend:     BackendOpenRouter,
			Model:       DefaultVisionModel,
			MaxTokens:   1000,
			Temperature: 0.7,
			Images:      true,
		},
	}
}

// ContextSource supplies the per-user part of the system prompt
type ContextSource interface {
	PromptContext(owner string) string
}

// LocaleSource reports the language a user's messages should be written in
type LocaleSource interface {
	Locale(owner string) string
}

// ImageResolver turns a stored image reference into something the remote can fetch
type ImageResolver func(ref string) (string, error)

// Client sends completion requests
type Client struct {
	backendConfigs map[string]Backend
	backends       map[string]openai.Client
	policy         Policy
	titleRoute     *Route
	quota          *Quota
	context        ContextSource
	locales        LocaleSource
	catalog        *locale.Catalog
	images         ImageResolver
	httpClient     *http.Client
	timeout        time.Duration

	mu      sync.RWMutex
	persona *Persona
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithPolicy replaces the route selection policy
func WithPolicy(policy Policy) ClientOption {
	return func(c *Client) {
		c.policy = policy
	}
}

// WithTitleRoute sets the route used for title generation
func WithTitleRoute(route Route) ClientOption {
	return func(c *Client) {
		c.titleRoute = &route
	}
}

// WithQuota enables daily quotas
func WithQuota(quota *Quota) ClientOption {
	return func(c *Client) {
		c.quota = quota
	}
}

// WithContextSource adds per-user prompt context
func WithContextSource(source ContextSource) ClientOption {
	return func(c *Client) {
		c.context = source
	}
}

// WithLocaleSource sets how a user's language is found
func WithLocaleSource(source LocaleSource) ClientOption {
	return func(c *Client) {
		c.locales = source
	}
}

// WithCatalog sets the message catalog for limit messages
func WithCatalog(catalog *locale.Catalog) ClientOption {
	return func(c *Client) {
		c.catalog = catalog
	}
}

// WithPersona replaces the built-in persona
func WithPersona(persona *Persona) ClientOption {
	return func(c *Client) {
		c.persona = persona
	}
}

// WithImageResolver sets how stored image references are sent to the remote
func WithImageResolver(resolver ImageResolver) ClientOption {
	return func(c *Client) {
		c.images = resolver
	}
}

// WithTimeout bounds each remote request
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// NewClient creates a client for the given backends
func NewClient(backends map[string]Backend, opts ...ClientOption) *Client {
	c := &Client{
		backendConfigs: backends,
		backends:       make(map[string]openai.Client),
		policy:         DefaultPolicy(),
		httpClient:     &http.Client{},
		timeout:        defaultTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.persona == nil {
		c.persona = DefaultPersona()
	}
	if c.catalog == nil {
		c.catalog = locale.MustLoad()
	}

	for name, b := range backends {
		reqOpts := []option.RequestOption{
			option.WithBaseURL(b.BaseURL),
			option.WithAPIKey(b.APIKey),
			option.WithHTTPClient(c.httpClient),
			// Failed calls surface to the user, who resubmits
			option.WithMaxRetries(0),
		}
		for k, v := range b.Headers {
			reqOpts = append(reqOpts, option.WithHeader(k, v))
		}
		c.backends[name] = openai.NewClient(reqOpts...)
	}

	return c
}

// HasBackend reports whether a backend with the given name is configured
func (c *Client) HasBackend(name string) bool {
	_, ok := c.backends[name]
	return ok
}

// SetPersona swaps the persona used for subsequent requests
func (c *Client) SetPersona(persona *Persona) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.persona = persona
}

// Persona returns the active persona
func (c *Client) Persona() *Persona {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.persona
}

// Quota returns the quota tracker, or nil when quotas are off
func (c *Client) Quota() *Quota {
	return c.quota
}

// SystemPrompt renders the system message sent ahead of owner's turns
func (c *Client) SystemPrompt(owner string) string {
	var userContext string
	if c.context != nil {
		userContext = c.context.PromptContext(owner)
	}
	return logic.JoinSections(c.Persona().Prompt(), userContext)
}

func (c *Client) localeFor(owner string) string {
	if c.locales == nil {
		return locale.Default
	}
	return c.locales.Locale(owner)
}

// Complete asks the selected backend for the next assistant turn.
// When a daily quota is exhausted it returns a fixed limit message without a remote call.
func (c *Client) Complete(ctx context.Context, owner string, turns []models.Turn) (models.Turn, error) {
	route := c.selectRoute(turns)
	last, _ := models.LastUserTurn(turns)
	hasImage := last.HasImage()

	log.Printf("[Assistant] Complete started owner=%s backend=%s model=%s turns=%d image=%t",
		owner, route.Backend, route.Model, len(turns), hasImage)

	if c.quota != nil {
		if message, limited, err := c.checkQuota(owner, hasImage); err != nil {
			log.Printf("[Assistant] Complete failed: quota check err=%v", err)
			return models.Turn{}, err
		} else if limited {
			log.Printf("[Assistant] Complete limited owner=%s", owner)
			return models.Turn{Role: models.RoleAssistant, Content: message, CreatedAt: time.Now()}, nil
		}
	}

	messages, err := c.buildMessages(owner, turns, route.Images)
	if err != nil {
		log.Printf("[Assistant] Complete failed: build messages err=%v", err)
		return models.Turn{}, err
	}

	content, err := c.send(ctx, route, messages)
	if err != nil {
		log.Printf("[Assistant] Complete failed owner=%s err=%v", owner, err)
		return models.Turn{}, err
	}

	if c.quota != nil {
		if _, err := c.quota.Increment(owner, KindRequests); err != nil {
			log.Printf("[Assistant] Failed to increment request counter owner=%s err=%v", owner, err)
		}
		if hasImage {
			if _, err := c.quota.Increment(owner, KindAttachments); err != nil {
				log.Printf("[Assistant] Failed to increment attachment counter owner=%s err=%v", owner, err)
			}
		}
	}

	log.Printf("[Assistant] Complete completed owner=%s length=%d", owner, len(content))
	return models.Turn{Role: models.RoleAssistant, Content: content, CreatedAt: time.Now()}, nil
}

// selectRoute asks the policy for a route and falls back when its backend is missing
func (c *Client) selectRoute(turns []models.Turn) Route {
	route := c.policy.Select(turns)
	if c.HasBackend(route.Backend) {
		return route
	}
	fp, ok := c.policy.(FallbackPolicy)
	if !ok {
		return route
	}
	fallback := fp.Fallback()
	if fallback.Backend == route.Backend || !c.HasBackend(fallback.Backend) {
		return route
	}
	log.Printf("[Assistant] Backend not configured, using fallback backend=%s fallback=%s", route.Backend, fallback.Backend)
	return fallback
}

// checkQuota returns the localized limit message when a counter is exhausted
func (c *Client) checkQuota(owner string, hasImage bool) (string, bool, error) {
	lang := c.localeFor(owner)

	ok, err := c.quota.Allow(owner, KindRequests)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return c.catalog.Format(lang, locale.RequestLimit, c.quota.Limit(KindRequests)), true, nil
	}

	if hasImage {
		ok, err := c.quota.Allow(owner, KindAttachments)
		if err != nil {
			return "", false, err
		}
		if !ok {
			return c.catalog.Format(lang, locale.AttachmentLimit, c.quota.Limit(KindAttachments)), true, nil
		}
	}
	return "", false, nil
}

func (c *Client) buildMessages(owner string, turns []models.Turn, images bool) ([]openai.ChatCompletionMessageParamUnion, error) {
	hasSystem := false
	for _, t := range turns {
		if t.Role == models.RoleSystem {
			hasSystem = true
			break
		}
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns)+1)
	if !hasSystem {
		messages = append(messages, openai.SystemMessage(c.SystemPrompt(owner)))
	}

	for _, t := range turns {
		switch t.Role {
		case models.RoleSystem:
			messages = append(messages, openai.SystemMessage(t.Content))
		case models.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(t.Content))
		default:
			if !images || !t.HasImage() {
				messages = append(messages, openai.UserMessage(t.Content))
				continue
			}
			url := t.ImageURL
			if c.images != nil {
				resolved, err := c.images(url)
				if err != nil {
					return nil, &APIError{Message: "Failed to prepare image", Err: err}
				}
				url = resolved
			}
			var parts []openai.ChatCompletionContentPartUnionParam
			if t.Content != "" {
				parts = append(parts, openai.TextContentPart(t.Content))
			}
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}))
			messages = append(messages, openai.UserMessage(parts))
		}
	}

	return messages, nil
}

func (c *Client) send(ctx context.Context, route Route, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	backend, ok := c.backends[route.Backend]
	if !ok {
		return "", &APIError{Message: fmt.Sprintf("Backend %q is not configured", route.Backend)}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(route.Model),
		Messages: messages,
	}
	if route.Temperature > 0 {
		params.Temperature = openai.Float(route.Temperature)
	}
	if route.MaxTokens > 0 {
		params.MaxTokens = openai.Int(route.MaxTokens)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	completion, err := backend.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", c.handleError(err)
	}
	if len(completion.Choices) == 0 {
		log.Printf("[Assistant] Response had no choices backend=%s model=%s", route.Backend, route.Model)
		return "", ErrNoResponse
	}

	return completion.Choices[0].Message.Content, nil
}

// handleError converts SDK errors into APIError
func (c *Client) handleError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		message := remoteErrorMessage(apiErr)
		log.Printf("[Assistant] API Error status=%d message=%q", apiErr.StatusCode, message)
		return &APIError{StatusCode: apiErr.StatusCode, Message: message}
	}

	log.Printf("[Assistant] Request failed err=%v", err)
	return &APIError{Message: genericFailure, Err: err}
}

// remoteErrorMessage prefers the message the remote sent
func remoteErrorMessage(apiErr *openai.Error) string {
	if m := strings.TrimSpace(apiErr.Message); m != "" {
		return m
	}
	if apiErr.Response != nil && apiErr.Response.Body != nil {
		body, err := io.ReadAll(apiErr.Response.Body)
		if err == nil {
			if m := messageFromBody(body); m != "" {
				return m
			}
		}
	}
	return genericFailure
}

// messageFromBody reads {"error":{"message":...}}, {"error":"..."} or {"message":...}
func messageFromBody(body []byte) string {
	var envelope struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	if len(envelope.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(envelope.Error, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
		var flat string
		if err := json.Unmarshal(envelope.Error, &flat); err == nil && flat != "" {
			return flat
		}
	}
	return envelope.Message
}

// GenerateTitle asks for a 3-5 word title from the first few turns.
// Any failure yields "" and the caller keeps its provisional title.
func (c *Client) GenerateTitle(ctx context.Context, turns []models.Turn) string {
	if len(turns) > titleTurns {
		turns = turns[:titleTurns]
	}

	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(titleInstruction)}
	for _, t := range turns {
		switch t.Role {
		case models.RoleUser:
			messages = append(messages, openai.UserMessage(t.Content))
		case models.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(t.Content))
		}
	}

	route := c.titleRouteFor()
	content, err := c.send(ctx, route, messages)
	if err != nil {
		log.Printf("[Assistant] GenerateTitle failed err=%v", err)
		return ""
	}

	title := logic.CleanTitle(content)
	log.Printf("[Assistant] GenerateTitle completed title=%q", title)
	return title
}

func (c *Client) titleRouteFor() Route {
	if c.titleRoute != nil {
		return *c.titleRoute
	}
	route := c.policy.Select(nil)
	route.MaxTokens = titleMaxTokens
	route.Temperature = titleTemperature
	route.Images = false
	return route
}
