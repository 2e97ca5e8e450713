package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"net/url"
	domainMailer "policy_reminder/internal/domain/mailer" // Import from domain
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultBrevoTimeout = 10 * time.Second
	digestSubject       = "Policy Expiry Reminder"
	digestTextContent   = "Some of your customer policies are expiring soon. Please check your dashboard."
)

var digestTemplate = template.Must(template.New("digest").Parse(`<p>Hello,</p>
<p>The following customer policies are expiring within the next {{.WithinDays}} days:</p>
<ul>{{range .Items}}<li><strong>{{.CustomerName}}</strong> — {{.Label}} ({{.Type}}) — expires on <b>{{.ExpiryDate.Format "2006-01-02"}}</b></li>{{end}}</ul>
<p>Please contact your customers to renew their policies.</p>
<p>Thanks,<br/>Your Insurance App</p>
`))

type brevoAddress struct {
	Email string `json:"email"`
}

// brevoEmail is the transactional email payload of the Brevo v3 API.
type brevoEmail struct {
	Sender      brevoAddress   `json:"sender"`
	To          []brevoAddress `json:"to"`
	Subject     string         `json:"subject"`
	HTMLContent string         `json:"htmlContent"`
	TextContent string         `json:"textContent,omitempty"`
}

type brevoResponse struct {
	MessageID string `json:"messageId"`
}

// BrevoClient implements the domainMailer.Client interface over the Brevo HTTP API.
type BrevoClient struct {
	httpClient *http.Client
	apiURL     string
	apiKey     string
	fromEmail  string
	logger     *logrus.Entry
}

// BrevoConfig holds the configuration for creating a BrevoClient.
type BrevoConfig struct {
	APIURL    string
	APIKey    string
	FromEmail string
	Timeout   time.Duration
}

func NewBrevoClient(cfg BrevoConfig, logger *logrus.Entry) (*BrevoClient, error) {
	u, err := url.Parse(cfg.APIURL)
	if err != nil {
		return nil, fmt.Errorf("invalid brevo API URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("brevo API URL must be an absolute http(s) URL, got %q", cfg.APIURL)
	}
	if cfg.APIKey == "" {
		logger.Warn("BREVO_API_KEY is not set. Reminder emails will fail.")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultBrevoTimeout
	}
	return &BrevoClient{
		httpClient: &http.Client{Timeout: timeout},
		apiURL:     cfg.APIURL,
		apiKey:     cfg.APIKey,
		fromEmail:  cfg.FromEmail,
		logger:     logger,
	}, nil
}

// RenderDigestHTML renders the digest body for items.
func RenderDigestHTML(withinDays int, items []domainMailer.DigestItem) (string, error) {
	var buf bytes.Buffer
	err := digestTemplate.Execute(&buf, struct {
		WithinDays int
		Items      []domainMailer.DigestItem
	}{withinDays, items})
	if err != nil {
		return "", fmt.Errorf("failed to render digest: %w", err)
	}
	return buf.String(), nil
}

// SendExpiryDigest posts one digest email. Any non-2xx answer is an error.
func (c *BrevoClient) SendExpiryDigest(ctx context.Context, to string, withinDays int, items []domainMailer.DigestItem) error {
	if len(items) == 0 {
		return nil
	}

	html, err := RenderDigestHTML(withinDays, items)
	if err != nil {
		return err
	}
	body, err := json.Marshal(brevoEmail{
		Sender:      brevoAddress{Email: c.fromEmail},
		To:          []brevoAddress{{Email: to}},
		Subject:     digestSubject,
		HTMLContent: html,
		TextContent: digestTextContent,
	})
	if err != nil {
		return fmt.Errorf("marshal brevo payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build brevo request: %w", err)
	}
	req.Header.Set("api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("brevo request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("brevo returned status %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}

	var parsed brevoResponse
	_ = json.Unmarshal(respBody, &parsed)
	c.logger.WithFields(logrus.Fields{
		"recipient":  to,
		"message_id": parsed.MessageID,
		"status":     resp.StatusCode,
	}).Debug("Brevo accepted expiry digest")
	return nil
}
