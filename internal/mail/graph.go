package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/oauth2/microsoft"
	"golang.org/x/time/rate"
)

const (
	graphBaseURL = "https://graph.microsoft.com/v1.0"
	graphScope   = "https://graph.microsoft.com/.default"
)

// GraphConfig configures delivery through Microsoft Graph's sendMail API
// with an app registration (client credentials flow).
type GraphConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	// From is the mailbox the app sends as.
	From string
	// RatePerSec caps outgoing requests; Graph throttles aggressively.
	RatePerSec float64

	// Overrides for tests. Empty means the real Microsoft endpoints.
	BaseURL  string
	TokenURL string
}

// GraphSender sends mail as cfg.From through Microsoft Graph.
//
// HOW THE TOKEN IS HANDLED:
// clientcredentials.Config.Client returns an *http.Client whose transport
// fetches an app-only access token on first use, caches it, and refreshes
// it shortly before it expires. Every request we make through that client
// carries "Authorization: Bearer <token>" without us touching it.
type GraphSender struct {
	client  *http.Client
	base    string
	from    string
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ Sender = (*GraphSender)(nil)

func NewGraphSender(ctx context.Context, cfg GraphConfig, logger *slog.Logger) *GraphSender {
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = microsoft.AzureADEndpoint(cfg.TenantID).TokenURL
	}
	base := cfg.BaseURL
	if base == "" {
		base = graphBaseURL
	}
	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = 2
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{graphScope},
	}

	return &GraphSender{
		client:  cc.Client(ctx),
		base:    base,
		from:    cfg.From,
		limiter: rate.NewLimiter(rate.Limit(perSec), 1),
		logger:  logger,
	}
}

type graphAddress struct {
	EmailAddress struct {
		Address string `json:"address"`
	} `json:"emailAddress"`
}

type graphMessage struct {
	Subject      string         `json:"subject"`
	Body         graphBody      `json:"body"`
	ToRecipients []graphAddress `json:"toRecipients"`
	ReplyTo      []graphAddress `json:"replyTo,omitempty"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type sendMailRequest struct {
	Message         graphMessage `json:"message"`
	SaveToSentItems bool         `json:"saveToSentItems"`
}

func addresses(list ...string) []graphAddress {
	out := make([]graphAddress, 0, len(list))
	for _, a := range list {
		if a == "" {
			continue
		}
		var ga graphAddress
		ga.EmailAddress.Address = a
		out = append(out, ga)
	}
	return out
}

// Send posts the message to /users/{from}/sendMail. Graph answers 202
// Accepted on success and queues delivery itself.
func (s *GraphSender) Send(ctx context.Context, msg Message) error {
	const op = "mail.GraphSender.Send"

	if len(msg.To) == 0 {
		return fmt.Errorf("%s: no recipients", op)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: waiting for rate limiter: %w", op, err)
	}

	body, err := json.Marshal(sendMailRequest{
		Message: graphMessage{
			Subject:      msg.Subject,
			Body:         graphBody{ContentType: "HTML", Content: msg.HTML},
			ToRecipients: addresses(msg.To...),
			ReplyTo:      addresses(msg.ReplyTo),
		},
		SaveToSentItems: true,
	})
	if err != nil {
		return fmt.Errorf("%s: encoding request: %w", op, err)
	}

	endpoint := s.base + "/users/" + url.PathEscape(s.from) + "/sendMail"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: building request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("%s: graph returned %d: %s", op, resp.StatusCode, bytes.TrimSpace(detail))
	}

	s.logger.Debug("email sent",
		slog.String("subject", msg.Subject),
		slog.Int("recipients", len(msg.To)),
	)
	return nil
}
