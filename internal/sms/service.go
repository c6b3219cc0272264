// Package sms sends one-time codes through an HTTP SMS gateway.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Config holds SMS gateway configuration
type Config struct {
	GatewayURL string
	APIKey     string
	From       string
}

// Service provides SMS sending
type Service struct {
	config Config
	client *http.Client
}

// NewService creates a new SMS service
func NewService(config Config) *Service {
	return &Service{
		config: config,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// IsConfigured returns true if the gateway is configured
func (s *Service) IsConfigured() bool {
	return s.config.GatewayURL != ""
}

// SendCode delivers a verification code to the phone number
func (s *Service) SendCode(ctx context.Context, phone, code string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("sms not configured")
	}

	payload, err := json.Marshal(map[string]string{
		"to":   phone,
		"from": s.config.From,
		"body": fmt.Sprintf("Your Finsense verification code is %s", code),
	})
	if err != nil {
		return fmt.Errorf("marshal sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.GatewayURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("sms gateway returned %d", resp.StatusCode)
	}
	return nil
}
