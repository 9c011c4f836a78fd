package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// WebhookEndpoint is a registered destination for state-change events.
type WebhookEndpoint struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Secret     string    `json:"secret,omitempty"`
	Events     []string  `json:"events"`
	FacilityID string    `json:"facility_id"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// matchesEvent reports whether the endpoint subscribes to the event type.
// An empty list or "*" subscribes to everything.
func (e *WebhookEndpoint) matchesEvent(eventType string) bool {
	if len(e.Events) == 0 {
		return true
	}
	for _, ev := range e.Events {
		if ev == "*" || ev == eventType {
			return true
		}
	}
	return false
}

// WebhookManager delivers state-change events to registered endpoints with
// HMAC-SHA256 signing and bounded retries. It implements Subscriber.
type WebhookManager struct {
	mu        sync.RWMutex
	endpoints map[string]*WebhookEndpoint
	client    *http.Client
	retries   int
}

func NewWebhookManager() *WebhookManager {
	return &WebhookManager{
		endpoints: make(map[string]*WebhookEndpoint),
		client:    &http.Client{Timeout: 10 * time.Second},
		retries:   3,
	}
}

func (m *WebhookManager) Name() string { return "webhook" }

// Register adds an endpoint. A secret is generated when none is supplied.
func (m *WebhookManager) Register(ep *WebhookEndpoint) (*WebhookEndpoint, error) {
	parsed, err := url.Parse(ep.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid webhook url: %q", ep.URL)
	}
	if ep.ID == "" {
		ep.ID = uuid.New().String()
	}
	if ep.Secret == "" {
		var buf [32]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return nil, fmt.Errorf("generate secret: %w", err)
		}
		ep.Secret = hex.EncodeToString(buf[:])
	}
	ep.Status = "active"
	ep.CreatedAt = time.Now().UTC()

	m.mu.Lock()
	m.endpoints[ep.ID] = ep
	m.mu.Unlock()
	return ep, nil
}

func (m *WebhookManager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.endpoints[id]; !ok {
		return false
	}
	delete(m.endpoints, id)
	return true
}

func (m *WebhookManager) List(facilityID string) []*WebhookEndpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*WebhookEndpoint
	for _, ep := range m.endpoints {
		if facilityID == "" || ep.FacilityID == facilityID {
			out = append(out, ep)
		}
	}
	return out
}

// Deliver sends the event to every matching endpoint in the event's facility.
func (m *WebhookManager) Deliver(ctx context.Context, e StateChange) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	m.mu.RLock()
	var targets []*WebhookEndpoint
	for _, ep := range m.endpoints {
		if ep.Status == "active" && ep.FacilityID == e.FacilityID && ep.matchesEvent(string(e.Type)) {
			targets = append(targets, ep)
		}
	}
	m.mu.RUnlock()

	var firstErr error
	for _, ep := range targets {
		if err := m.deliverOne(ctx, ep, e, payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *WebhookManager) deliverOne(ctx context.Context, ep *WebhookEndpoint, e StateChange, payload []byte) error {
	sig := sign(ep.Secret, payload)

	var lastErr error
	for attempt := 1; attempt <= m.retries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Event-ID", e.ID.String())
		req.Header.Set("X-Event-Type", string(e.Type))
		req.Header.Set("X-Signature-256", "sha256="+sig)

		resp, err := m.client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			lastErr = fmt.Errorf("endpoint %s returned %d", ep.ID, resp.StatusCode)
		} else {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
		}
	}
	return lastErr
}

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// RegisterRoutes exposes webhook management under the API group.
func (m *WebhookManager) RegisterRoutes(api *echo.Group) {
	api.POST("/webhooks", m.handleRegister)
	api.GET("/webhooks", m.handleList)
	api.DELETE("/webhooks/:id", m.handleRemove)
}

func (m *WebhookManager) handleRegister(c echo.Context) error {
	var ep WebhookEndpoint
	if err := c.Bind(&ep); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if fid, ok := c.Get("facility_id").(string); ok && fid != "" {
		ep.FacilityID = fid
	}
	created, err := m.Register(&ep)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, created)
}

func (m *WebhookManager) handleList(c echo.Context) error {
	fid, _ := c.Get("facility_id").(string)
	eps := m.List(fid)
	// Never expose secrets on list.
	out := make([]WebhookEndpoint, 0, len(eps))
	for _, ep := range eps {
		cp := *ep
		cp.Secret = ""
		out = append(out, cp)
	}
	return c.JSON(http.StatusOK, out)
}

func (m *WebhookManager) handleRemove(c echo.Context) error {
	if !m.Remove(c.Param("id")) {
		return echo.NewHTTPError(http.StatusNotFound, "webhook not found")
	}
	return c.NoContent(http.StatusNoContent)
}
