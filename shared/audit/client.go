// Package audit publishes structured audit events to the central audit
// service over HTTP. Delivery is fire-and-forget: the business operation
// never waits on, or fails because of, audit logging.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/forestry-sandbox/licensing-backend/shared/monitoring"
)

// AuditLogsEndpoint is the audit service's create path, joined onto the
// configured base URL.
const AuditLogsEndpoint = "/api/audit-logs"

// DefaultHTTPTimeout caps each delivery attempt.
const DefaultHTTPTimeout = 10 * time.Second

// Client delivers audit events to the audit service. The zero value is
// unusable; construct with NewClient.
type Client struct {
	baseURL    string
	httpClient *http.Client
	enabled    bool
}

// NewClient builds an audit client for the service at baseURL. The client
// comes up disabled when baseURL is empty or ENABLE_AUDIT is set to false;
// a disabled client silently drops every event.
func NewClient(baseURL string) *Client {
	if !auditEnabled(baseURL) {
		slog.Info("Audit client disabled",
			"reason", "ENABLE_AUDIT=false or audit service URL not configured")
		return &Client{}
	}

	slog.Info("Audit client initialized", "baseURL", baseURL)
	return &Client{
		baseURL: baseURL,
		enabled: true,
		httpClient: &http.Client{
			Timeout: DefaultHTTPTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
			},
		},
	}
}

// IsEnabled reports whether events will actually be delivered.
func (c *Client) IsEnabled() bool {
	return c.enabled
}

// LogEvent queues the event for background delivery and returns
// immediately. Delivery uses a fresh context so cancellation of the
// triggering request cannot abort the audit write.
func (c *Client) LogEvent(ctx context.Context, event *AuditLogRequest) {
	if !c.enabled || c.httpClient == nil {
		return
	}

	go func() {
		if err := c.deliver(context.Background(), event); err != nil {
			slog.Error("Failed to deliver audit event", "error", err)
			return
		}
		slog.Debug("Audit event logged",
			"eventType", event.EventType,
			"actorType", event.ActorType,
			"actorId", event.ActorID,
			"status", event.Status)
	}()
}

// deliver posts one event and checks for the 201 the audit service returns
// on success.
func (c *Client) deliver(ctx context.Context, event *AuditLogRequest) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit request: %w", err)
	}

	endpointURL, err := url.JoinPath(c.baseURL, AuditLogsEndpoint)
	if err != nil {
		return fmt.Errorf("construct audit service URL from %q: %w", c.baseURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create audit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	monitoring.RecordExternalCall("audit-service", "create_audit_log", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("send audit request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("audit service returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// auditEnabled applies the ENABLE_AUDIT gate; unset means enabled as long
// as a base URL was configured.
func auditEnabled(baseURL string) bool {
	if baseURL == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(os.Getenv("ENABLE_AUDIT"))) {
	case "", "true", "1", "yes":
		return true
	default:
		return false
	}
}
