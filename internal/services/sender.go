package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/feedrelay/feedrelay/internal/models"
)

// RetriableError marks a send failure worth another attempt (timeouts,
// transient network trouble, rate limiting).
type RetriableError struct {
	Err error
}

func (e *RetriableError) Error() string { return e.Err.Error() }
func (e *RetriableError) Unwrap() error { return e.Err }

// PermanentError marks a send failure that must not be retried (invalid
// destination, content rejected outright).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// IsRetriable classifies a send error. Errors that are neither wrapped
// form default to retriable, matching how unknown network conditions are
// treated.
func IsRetriable(err error) bool {
	var perm *PermanentError
	return !errors.As(err, &perm)
}

// MessageSender is the external messaging transport the dispatch worker
// depends on. Implementations return the platform message id on success
// and wrap failures as RetriableError or PermanentError.
type MessageSender interface {
	Send(ctx context.Context, dest *models.Destination, content string) (externalMessageID string, err error)
}

// WebhookSender delivers rendered messages to a per-destination webhook
// endpoint. Destination.Address carries the URL.
type WebhookSender struct {
	client *http.Client
}

func NewWebhookSender(timeout time.Duration) *WebhookSender {
	return &WebhookSender{
		client: &http.Client{Timeout: timeout},
	}
}

type webhookPayload struct {
	Destination string `json:"destination"`
	Kind        string `json:"kind"`
	Text        string `json:"text"`
}

func (s *WebhookSender) Send(ctx context.Context, dest *models.Destination, content string) (string, error) {
	body, err := json.Marshal(webhookPayload{
		Destination: dest.Address,
		Kind:        dest.Kind,
		Text:        content,
	})
	if err != nil {
		return "", &PermanentError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest.Address, bytes.NewReader(body))
	if err != nil {
		return "", &PermanentError{Err: fmt.Errorf("invalid destination address: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
			return "", &RetriableError{Err: err}
		}
		return "", &RetriableError{Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out struct {
			MessageID string `json:"message_id"`
		}
		if err := json.Unmarshal(raw, &out); err == nil && out.MessageID != "" {
			return out.MessageID, nil
		}
		return "", nil
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode >= 500:
		return "", &RetriableError{Err: fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, raw)}
	default:
		return "", &PermanentError{Err: fmt.Errorf("webhook rejected message, status %d: %s", resp.StatusCode, raw)}
	}
}
