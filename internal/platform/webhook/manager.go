// Package webhook delivers lab request changes to external systems. Each
// endpoint subscribes to event type patterns and optionally one branch;
// payloads are signed with HMAC-SHA256 and every attempt is logged.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/labtracker/internal/domain/labrequest"
	"github.com/ehr/labtracker/pkg/apperror"
)

const (
	StatusActive = "active"
	StatusPaused = "paused"

	DeliverySuccess = "success"
	DeliveryFailed  = "failed"

	// EventTest is sent by TestEndpoint.
	EventTest = "webhook.test"
)

type Endpoint struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Secret    string    `json:"secret,omitempty"`
	Events    []string  `json:"events"`
	Branch    string    `json:"branch,omitempty"`
	Status    string    `json:"status"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Redacted returns a copy without the signing secret.
func (e *Endpoint) Redacted() *Endpoint {
	cp := *e
	cp.Secret = ""
	cp.Events = append([]string(nil), e.Events...)
	return &cp
}

// Event is the signed JSON body POSTed to endpoints.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	RequestID string                 `json:"request_id,omitempty"`
	Branch    string                 `json:"branch,omitempty"`
	OrderID   string                 `json:"order_id,omitempty"`
	From      labrequest.OrderStatus `json:"from,omitempty"`
	To        labrequest.OrderStatus `json:"to,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   json.RawMessage        `json:"payload,omitempty"`
}

// DeliveryAttempt records one POST of an event to an endpoint.
type DeliveryAttempt struct {
	ID           string          `json:"id"`
	WebhookID    string          `json:"webhook_id"`
	EventType    string          `json:"event_type"`
	EventID      string          `json:"event_id"`
	Payload      json.RawMessage `json:"payload"`
	StatusCode   int             `json:"status_code"`
	ResponseBody string          `json:"response_body,omitempty"`
	Duration     time.Duration   `json:"duration_ns"`
	Attempt      int             `json:"attempt"`
	Status       string          `json:"status"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// EventType maps a stored change to the webhook event type. Transitions are
// named after the status the order reached, e.g. test_order.completed.
func EventType(c labrequest.Change) string {
	if c.Kind == labrequest.ChangeTransition {
		return "test_order." + string(c.To)
	}
	return string(c.Kind)
}

// -- Store --

// Store persists endpoints and delivery attempts. Lists are returned in
// insertion order.
type Store interface {
	CreateEndpoint(ctx context.Context, ep *Endpoint) error
	GetEndpoint(ctx context.Context, id string) (*Endpoint, error)
	ListEndpoints(ctx context.Context) ([]*Endpoint, error)
	UpdateEndpoint(ctx context.Context, ep *Endpoint) error
	DeleteEndpoint(ctx context.Context, id string) error
	RecordDelivery(ctx context.Context, attempt *DeliveryAttempt) error
	ListDeliveries(ctx context.Context, webhookID string) ([]*DeliveryAttempt, error)
	GetDelivery(ctx context.Context, id string) (*DeliveryAttempt, error)
}

// MemoryStore keeps at most maxDeliveries attempts per endpoint.
type MemoryStore struct {
	mu            sync.RWMutex
	endpoints     map[string]*Endpoint
	endpointOrder []string
	deliveries    map[string]*DeliveryAttempt
	byWebhook     map[string][]string
	maxDeliveries int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		endpoints:     make(map[string]*Endpoint),
		deliveries:    make(map[string]*DeliveryAttempt),
		byWebhook:     make(map[string][]string),
		maxDeliveries: 500,
	}
}

func (s *MemoryStore) CreateEndpoint(_ context.Context, ep *Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ep
	s.endpoints[ep.ID] = &cp
	s.endpointOrder = append(s.endpointOrder, ep.ID)
	return nil
}

func (s *MemoryStore) GetEndpoint(_ context.Context, id string) (*Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.endpoints[id]
	if !ok {
		return nil, apperror.NotFound("webhook %s not found", id)
	}
	cp := *ep
	return &cp, nil
}

func (s *MemoryStore) ListEndpoints(_ context.Context) ([]*Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Endpoint, 0, len(s.endpointOrder))
	for _, id := range s.endpointOrder {
		cp := *s.endpoints[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) UpdateEndpoint(_ context.Context, ep *Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[ep.ID]; !ok {
		return apperror.NotFound("webhook %s not found", ep.ID)
	}
	cp := *ep
	s.endpoints[ep.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteEndpoint(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[id]; !ok {
		return apperror.NotFound("webhook %s not found", id)
	}
	delete(s.endpoints, id)
	for i, eid := range s.endpointOrder {
		if eid == id {
			s.endpointOrder = append(s.endpointOrder[:i], s.endpointOrder[i+1:]...)
			break
		}
	}
	for _, did := range s.byWebhook[id] {
		delete(s.deliveries, did)
	}
	delete(s.byWebhook, id)
	return nil
}

func (s *MemoryStore) RecordDelivery(_ context.Context, a *DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.deliveries[a.ID] = &cp
	ids := append(s.byWebhook[a.WebhookID], a.ID)
	if len(ids) > s.maxDeliveries {
		for _, old := range ids[:len(ids)-s.maxDeliveries] {
			delete(s.deliveries, old)
		}
		ids = ids[len(ids)-s.maxDeliveries:]
	}
	s.byWebhook[a.WebhookID] = ids
	return nil
}

func (s *MemoryStore) ListDeliveries(_ context.Context, webhookID string) ([]*DeliveryAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byWebhook[webhookID]
	out := make([]*DeliveryAttempt, 0, len(ids))
	for _, id := range ids {
		cp := *s.deliveries[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) GetDelivery(_ context.Context, id string) (*DeliveryAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.deliveries[id]
	if !ok {
		return nil, apperror.NotFound("delivery %s not found", id)
	}
	cp := *a
	return &cp, nil
}

// -- Signing --

// SignPayload returns the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature produced by SignPayload. A "sha256="
// prefix is accepted.
func VerifySignature(payload []byte, secret, signature string) bool {
	signature = strings.TrimPrefix(signature, "sha256=")
	return hmac.Equal([]byte(SignPayload(payload, secret)), []byte(signature))
}

// -- Manager --

type ManagerOption func(*Manager)

func WithHTTPClient(c *http.Client) ManagerOption {
	return func(m *Manager) { m.httpClient = c }
}

// WithRetryDelays sets the waits between attempts; len(delays) retries are
// made after the first failure.
func WithRetryDelays(delays ...time.Duration) ManagerOption {
	return func(m *Manager) { m.retryDelays = delays }
}

type Manager struct {
	store       Store
	httpClient  *http.Client
	retryDelays []time.Duration
	logger      zerolog.Logger
	now         func() time.Time
}

func NewManager(store Store, logger zerolog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:       store,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		retryDelays: []time.Duration{time.Second, 10 * time.Second, time.Minute},
		logger:      logger,
		now:         time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return apperror.Validation("url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return apperror.Validation("invalid url: %s", rawURL)
	}
	if scheme := strings.ToLower(u.Scheme); scheme != "http" && scheme != "https" {
		return apperror.Validation("url scheme must be http or https, got %q", u.Scheme)
	}
	return nil
}

func validatePatterns(events []string) error {
	if len(events) == 0 {
		return apperror.Validation("at least one event pattern is required")
	}
	for _, p := range events {
		if strings.TrimSpace(p) == "" {
			return apperror.Validation("event patterns must not be empty")
		}
	}
	return nil
}

// RegisterInput describes a new endpoint. An empty Secret is generated.
type RegisterInput struct {
	URL    string   `json:"url"`
	Secret string   `json:"secret"`
	Events []string `json:"events"`
	Branch string   `json:"branch"`
}

// Register validates and stores a new active endpoint. The returned
// endpoint is the only place the secret is revealed.
func (m *Manager) Register(ctx context.Context, in RegisterInput, createdBy string) (*Endpoint, error) {
	if err := validateURL(in.URL); err != nil {
		return nil, err
	}
	if err := validatePatterns(in.Events); err != nil {
		return nil, err
	}
	secret := in.Secret
	if secret == "" {
		s, err := generateSecret()
		if err != nil {
			return nil, apperror.Internal("generate webhook secret", err)
		}
		secret = s
	}

	ep := &Endpoint{
		ID:        uuid.NewString(),
		URL:       in.URL,
		Secret:    secret,
		Events:    in.Events,
		Branch:    strings.TrimSpace(in.Branch),
		Status:    StatusActive,
		CreatedBy: createdBy,
		CreatedAt: m.now(),
	}
	if err := m.store.CreateEndpoint(ctx, ep); err != nil {
		return nil, apperror.Internal("store webhook", err)
	}
	m.logger.Info().Str("webhook_id", ep.ID).Str("url", ep.URL).Strs("events", ep.Events).Msg("webhook registered")
	return ep, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*Endpoint, error) {
	return m.store.GetEndpoint(ctx, id)
}

func (m *Manager) List(ctx context.Context) ([]*Endpoint, error) {
	return m.store.ListEndpoints(ctx)
}

func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.store.DeleteEndpoint(ctx, id)
}

// SetStatus pauses or resumes an endpoint.
func (m *Manager) SetStatus(ctx context.Context, id, status string) (*Endpoint, error) {
	if status != StatusActive && status != StatusPaused {
		return nil, apperror.Validation("invalid webhook status: %s", status)
	}
	ep, err := m.store.GetEndpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	ep.Status = status
	if err := m.store.UpdateEndpoint(ctx, ep); err != nil {
		return nil, err
	}
	return ep, nil
}

// eventMatches supports exact types and the wildcards "*", "prefix.*" and
// "*.suffix".
func eventMatches(pattern, eventType string) bool {
	switch {
	case pattern == "*" || pattern == eventType:
		return true
	case strings.HasPrefix(pattern, "*."):
		return strings.HasSuffix(eventType, pattern[1:])
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(eventType, pattern[:len(pattern)-1])
	}
	return false
}

// Matches reports whether ep should receive event.
func (ep *Endpoint) Matches(event Event) bool {
	if ep.Status != StatusActive {
		return false
	}
	if ep.Branch != "" && !strings.EqualFold(ep.Branch, event.Branch) {
		return false
	}
	for _, p := range ep.Events {
		if eventMatches(p, event.Type) {
			return true
		}
	}
	return false
}

// Deliver sends event to every matching endpoint, retrying failures, and
// returns the final attempt per endpoint.
func (m *Manager) Deliver(ctx context.Context, event Event) ([]*DeliveryAttempt, error) {
	endpoints, err := m.store.ListEndpoints(ctx)
	if err != nil {
		return nil, err
	}
	var out []*DeliveryAttempt
	for _, ep := range endpoints {
		if !ep.Matches(event) {
			continue
		}
		out = append(out, m.deliverWithRetry(ctx, ep, event))
	}
	return out, nil
}

func (m *Manager) deliverWithRetry(ctx context.Context, ep *Endpoint, event Event) *DeliveryAttempt {
	attempt := m.DeliverToEndpoint(ctx, ep, event, 1)
	for i, delay := range m.retryDelays {
		if attempt.Status == DeliverySuccess {
			break
		}
		select {
		case <-ctx.Done():
			return attempt
		case <-time.After(delay):
		}
		attempt = m.DeliverToEndpoint(ctx, ep, event, i+2)
	}
	if attempt.Status != DeliverySuccess {
		m.logger.Warn().
			Str("webhook_id", ep.ID).
			Str("event_type", event.Type).
			Int("attempts", attempt.Attempt).
			Str("error", attempt.Error).
			Msg("webhook delivery gave up")
	}
	return attempt
}

// DeliverToEndpoint makes a single signed POST and records it.
func (m *Manager) DeliverToEndpoint(ctx context.Context, ep *Endpoint, event Event, attemptNo int) *DeliveryAttempt {
	payload, err := json.Marshal(event)
	now := m.now()
	attempt := &DeliveryAttempt{
		ID:        uuid.NewString(),
		WebhookID: ep.ID,
		EventType: event.Type,
		EventID:   event.ID,
		Payload:   payload,
		Attempt:   attemptNo,
		CreatedAt: now,
	}
	record := func() *DeliveryAttempt {
		if err := m.store.RecordDelivery(ctx, attempt); err != nil {
			m.logger.Error().Err(err).Str("webhook_id", ep.ID).Msg("record webhook delivery")
		}
		return attempt
	}
	if err != nil {
		attempt.Status, attempt.Error = DeliveryFailed, err.Error()
		return record()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		attempt.Status, attempt.Error = DeliveryFailed, err.Error()
		return record()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", "sha256="+SignPayload(payload, ep.Secret))
	req.Header.Set("X-Webhook-ID", ep.ID)
	req.Header.Set("X-Webhook-Event", event.Type)
	req.Header.Set("X-Webhook-Timestamp", now.UTC().Format(time.RFC3339))

	start := time.Now()
	resp, err := m.httpClient.Do(req)
	attempt.Duration = time.Since(start)
	if err != nil {
		attempt.Status, attempt.Error = DeliveryFailed, err.Error()
		return record()
	}
	defer resp.Body.Close()

	attempt.StatusCode = resp.StatusCode
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	attempt.ResponseBody = string(body)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		attempt.Status = DeliverySuccess
	} else {
		attempt.Status = DeliveryFailed
		attempt.Error = fmt.Sprintf("non-2xx response: %d", resp.StatusCode)
	}
	return record()
}

// Retry re-sends the event of a recorded attempt once.
func (m *Manager) Retry(ctx context.Context, deliveryID string) (*DeliveryAttempt, error) {
	original, err := m.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	ep, err := m.store.GetEndpoint(ctx, original.WebhookID)
	if err != nil {
		return nil, err
	}
	var event Event
	if err := json.Unmarshal(original.Payload, &event); err != nil {
		return nil, apperror.Internal("decode stored webhook payload", err)
	}
	return m.DeliverToEndpoint(ctx, ep, event, original.Attempt+1), nil
}

// Test sends a webhook.test event regardless of the endpoint's patterns.
func (m *Manager) Test(ctx context.Context, id string) (*DeliveryAttempt, error) {
	ep, err := m.store.GetEndpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	event := Event{
		ID:        uuid.NewString(),
		Type:      EventTest,
		Timestamp: m.now(),
		Payload:   json.RawMessage(`{"test":true}`),
	}
	return m.DeliverToEndpoint(ctx, ep, event, 1), nil
}

func (m *Manager) Deliveries(ctx context.Context, webhookID string) ([]*DeliveryAttempt, error) {
	if _, err := m.store.GetEndpoint(ctx, webhookID); err != nil {
		return nil, err
	}
	return m.store.ListDeliveries(ctx, webhookID)
}
