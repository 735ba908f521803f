// Package mailer sends templated email through the SMTP2GO HTTP API.
package mailer

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"vigil/internal/core"
)

//go:embed "templates"
var templateFS embed.FS

const (
	defaultEndpoint = "https://api.smtp2go.com/v3/email/send"
	sendAttempts    = 3
	retryDelay      = 500 * time.Millisecond
)

// Mailer delivers rendered email templates via SMTP2GO
type Mailer struct {
	apiKey   string
	sender   string
	endpoint string
	client   *http.Client
	logger   *core.Logger
}

// SMTP2GO API request structure
type smtp2goRequest struct {
	APIKey   string   `json:"api_key"`
	To       []string `json:"to"`
	Sender   string   `json:"sender"`
	Subject  string   `json:"subject"`
	TextBody string   `json:"text_body"`
	HTMLBody string   `json:"html_body"`
}

// SMTP2GO API response structure
type smtp2goResponse struct {
	RequestID string `json:"request_id"`
	Data      struct {
		EmailID string `json:"email_id"`
	} `json:"data"`
}

func New(apiKey, sender string, logger *core.Logger) Mailer {
	return Mailer{
		apiKey:   apiKey,
		sender:   sender,
		endpoint: defaultEndpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
}

// Send renders the named template (its "subject", "plainBody" and
// "htmlBody" blocks) and delivers the result to recipient, retrying failed
// API calls a few times before giving up.
func (m Mailer) Send(ctx context.Context, recipient, templateFile string, data any) error {
	tmpl, err := template.New("email").ParseFS(templateFS, "templates/"+templateFile)
	if err != nil {
		return fmt.Errorf("failed to parse email template: %w", err)
	}

	subject := new(bytes.Buffer)
	if err := tmpl.ExecuteTemplate(subject, "subject", data); err != nil {
		return fmt.Errorf("failed to render subject: %w", err)
	}

	plainBody := new(bytes.Buffer)
	if err := tmpl.ExecuteTemplate(plainBody, "plainBody", data); err != nil {
		return fmt.Errorf("failed to render plain body: %w", err)
	}

	htmlBody := new(bytes.Buffer)
	if err := tmpl.ExecuteTemplate(htmlBody, "htmlBody", data); err != nil {
		return fmt.Errorf("failed to render html body: %w", err)
	}

	payload, err := json.Marshal(smtp2goRequest{
		APIKey:   m.apiKey,
		To:       []string{recipient},
		Sender:   m.sender,
		Subject:  subject.String(),
		TextBody: plainBody.String(),
		HTMLBody: htmlBody.String(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal email request: %w", err)
	}

	for attempt := 1; attempt <= sendAttempts; attempt++ {
		err = m.sendViaAPI(ctx, payload)
		if err == nil {
			m.logger.Debug("Sent email", "recipient", recipient, "template", templateFile)
			return nil
		}

		m.logger.Warn("Email delivery attempt failed", "attempt", attempt, "error", err)

		if attempt < sendAttempts {
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return fmt.Errorf("failed to send email after %d attempts: %w", sendAttempts, err)
}

func (m Mailer) sendViaAPI(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API request failed with status: %d", resp.StatusCode)
	}

	var response smtp2goResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
