package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// WebhookSender posts rendered messages as JSON to a mail relay endpoint.
type WebhookSender struct {
	endpoint *url.URL
	apiKey   string
	client   *http.Client
	logger   *log.Logger
}

// NewWebhookSender constructs a sender posting to baseURL + "/messages".
func NewWebhookSender(baseURL, apiKey string, timeout time.Duration, logger *log.Logger) (*WebhookSender, error) {
	if logger == nil {
		logger = log.Default()
	}
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse webhook url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("parse webhook url: %q is not absolute", baseURL)
	}
	return &WebhookSender{
		endpoint: parsed.ResolveReference(&url.URL{Path: parsed.Path + "/messages"}),
		apiKey:   apiKey,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   timeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   timeout,
				ResponseHeaderTimeout: timeout,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
		logger: logger,
	}, nil
}

// Send posts msg and treats any 2xx answer as delivered.
func (s *WebhookSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode webhook message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.Printf("notify: webhook returned %d for %q", resp.StatusCode, msg.Subject)
		return fmt.Errorf("webhook: relay returned %d", resp.StatusCode)
	}
	return nil
}
