package actions

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/leadflow/engine/pkg/schema"
)

const (
	defaultWebhookTimeout  = 30 * time.Second
	maxWebhookResponseBody = 64 * 1024

	// SignatureHeader carries the HMAC-SHA256 hex digest of the request body.
	SignatureHeader = "X-Leadflow-Signature"
)

// SendWebhook posts a JSON payload describing the lead to an external URL.
// When a secret is configured the body is signed with HMAC-SHA256 and the
// hex digest is sent in the X-Leadflow-Signature header.
type SendWebhook struct {
	Client *http.Client
}

func (a *SendWebhook) Kind() schema.NodeType { return schema.NodeActionSendWebhook }

func (a *SendWebhook) Execute(ctx context.Context, req Request) (*Result, error) {
	var cfg schema.SendWebhookConfig
	if err := decodeConfig(a.Kind(), req.Config, &cfg); err != nil {
		return nil, err
	}
	u, err := url.ParseRequestURI(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "%s: invalid url %q", a.Kind(), cfg.URL)
	}

	if req.DryRun {
		return &Result{
			Summary: fmt.Sprintf("would post webhook for lead %s to %s", req.LeadID, cfg.URL),
			Detail:  map[string]any{"url": cfg.URL, "signed": cfg.Secret != ""},
		}, nil
	}

	payload := map[string]any{
		"lead_id": req.LeadID,
		"sent_at": time.Now().UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeAction, "%s: marshal payload", a.Kind()).WithCause(err)
	}

	timeout := defaultWebhookTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeAction, "%s: build request", a.Kind()).WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if cfg.Secret != "" {
		httpReq.Header.Set(SignatureHeader, Sign(cfg.Secret, body))
	}

	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}

	start := time.Now()
	resp, err := client.Do(httpReq)
	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeAction, "%s: request failed: %v", a.Kind(), err).WithCause(err)
	}
	defer resp.Body.Close()

	// Drain a bounded amount so the connection can be reused.
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxWebhookResponseBody)) //nolint:errcheck

	if resp.StatusCode >= 400 {
		return nil, schema.NewErrorf(schema.ErrCodeAction, "%s: endpoint returned %d", a.Kind(), resp.StatusCode).
			WithDetails(map[string]any{"status_code": resp.StatusCode, "url": cfg.URL})
	}
	return &Result{
		Summary: fmt.Sprintf("posted webhook for lead %s to %s", req.LeadID, cfg.URL),
		Detail: map[string]any{
			"url":         cfg.URL,
			"status_code": resp.StatusCode,
			"duration_ms": durationMs,
		},
	}, nil
}

// Sign computes the hex HMAC-SHA256 digest of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
