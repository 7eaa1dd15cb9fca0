// Package gmail fetches receipt-like messages from a Gmail mailbox as provider records.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/the-spice-must-recur/internal/common"
	"github.com/Veraticus/the-spice-must-recur/internal/model"
	"github.com/Veraticus/the-spice-must-recur/internal/service"
	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// DefaultQuery narrows the mailbox to messages that look like bills.
const DefaultQuery = `category:purchases OR subject:(receipt OR invoice OR subscription OR renewal OR payment)`

// Config holds Gmail feed configuration.
type Config struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	TokenFile    string `mapstructure:"token_file"`
	Query        string `mapstructure:"query"`
	MaxMessages  int    `mapstructure:"max_messages"`
}

// Validate checks the OAuth client settings.
func (c *Config) Validate() error {
	if c.ClientID == "" || c.ClientSecret == "" {
		return fmt.Errorf("%w: gmail client ID and secret are required", common.ErrMissingConfig)
	}
	if c.MaxMessages < 0 {
		return fmt.Errorf("%w: gmail max_messages must not be negative", common.ErrInvalidConfig)
	}
	return nil
}

// Client implements service.RecordFetcher over the Gmail API.
type Client struct {
	svc       *gmailapi.Service
	logger    *slog.Logger
	retryOpts service.RetryOptions
	query     string
	max       int
}

// NewClient authenticates and creates a Gmail client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ts, err := TokenSource(ctx, OAuth2Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenFile:    cfg.TokenFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate with Gmail: %w", err)
	}

	svc, err := gmailapi.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, ts)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return NewClientWithService(svc, cfg), nil
}

// NewClientWithService wraps an existing Gmail service.
func NewClientWithService(svc *gmailapi.Service, cfg Config) *Client {
	query := cfg.Query
	if query == "" {
		query = DefaultQuery
	}
	return &Client{
		svc:    svc,
		logger: slog.Default().With("component", "gmail"),
		retryOpts: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
		query: query,
		max:   cfg.MaxMessages,
	}
}

// FetchRecords lists matching messages received in [startDate, endDate) and converts
// each to an email record. Messages without a usable body are skipped.
func (c *Client) FetchRecords(ctx context.Context, startDate, endDate time.Time) ([]model.ProviderRecord, error) {
	if startDate.After(endDate) {
		return nil, errors.New("start date must be before end date")
	}
	q := fmt.Sprintf("(%s) after:%d before:%d", c.query, startDate.Unix(), endDate.Unix())

	var ids []string
	pageToken := ""
	for {
		var resp *gmailapi.ListMessagesResponse
		err := common.WithRetry(ctx, func() error {
			call := c.svc.Users.Messages.List("me").Q(q).Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			var err error
			resp, err = call.Do()
			return classify(err, "failed to list messages")
		}, c.retryOpts)
		if err != nil {
			return nil, err
		}

		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}
		if resp.NextPageToken == "" || (c.max > 0 && len(ids) >= c.max) {
			break
		}
		pageToken = resp.NextPageToken
	}
	if c.max > 0 && len(ids) > c.max {
		ids = ids[:c.max]
	}

	records := make([]model.ProviderRecord, 0, len(ids))
	for _, id := range ids {
		var msg *gmailapi.Message
		err := common.WithRetry(ctx, func() error {
			var err error
			msg, err = c.svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
			return classify(err, "failed to get message "+id)
		}, c.retryOpts)
		if err != nil {
			return nil, err
		}

		rec, ok := MessageRecord(msg)
		if !ok {
			c.logger.Debug("skipping message without body", "id", id)
			continue
		}
		records = append(records, rec)
	}

	c.logger.Info("fetched messages", "matched", len(ids), "records", len(records))
	return records, nil
}

// classify marks quota and server errors retryable.
func classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			return &common.RetryableError{Err: fmt.Errorf("%s: %w: %w", msg, common.ErrProviderRateLimit, err), Retryable: true}
		case apiErr.Code >= 500:
			return &common.RetryableError{Err: fmt.Errorf("%s: %w: %w", msg, common.ErrProviderConnection, err), Retryable: true}
		default:
			return &common.RetryableError{Err: fmt.Errorf("%s: %w", msg, err), Retryable: false}
		}
	}
	return &common.RetryableError{Err: fmt.Errorf("%s: %w: %w", msg, common.ErrProviderConnection, err), Retryable: true}
}

// MessageRecord converts a full-format Gmail message into an email record. The body
// prefers text/plain parts and falls back to text/html.
func MessageRecord(msg *gmailapi.Message) (model.ProviderRecord, bool) {
	if msg == nil || msg.Payload == nil {
		return model.ProviderRecord{}, false
	}

	body := findBody(msg.Payload, "text/plain")
	if strings.TrimSpace(body) == "" {
		body = findBody(msg.Payload, "text/html")
	}
	if strings.TrimSpace(body) == "" {
		body = msg.Snippet
	}
	if strings.TrimSpace(body) == "" {
		return model.ProviderRecord{}, false
	}

	occurred := header(msg.Payload, "Date")
	if msg.InternalDate > 0 {
		occurred = time.UnixMilli(msg.InternalDate).UTC().Format(time.RFC3339)
	}

	return model.ProviderRecord{
		Source:               model.SourceEmail,
		SubjectOrDescription: header(msg.Payload, "Subject"),
		BodyOrMerchantString: body,
		SenderOrAccountRef:   header(msg.Payload, "From"),
		OccurredAt:           occurred,
		RawIdentifier:        msg.Id,
	}, true
}

func header(part *gmailapi.MessagePart, name string) string {
	for _, h := range part.Headers {
		if strings.EqualFold(h.Name, name) {
			return strings.TrimSpace(h.Value)
		}
	}
	return ""
}

func findBody(part *gmailapi.MessagePart, mimeType string) string {
	if strings.EqualFold(part.MimeType, mimeType) && part.Body != nil && part.Body.Data != "" {
		data, err := base64.URLEncoding.DecodeString(part.Body.Data)
		if err != nil {
			data, err = base64.RawURLEncoding.DecodeString(part.Body.Data)
		}
		if err == nil {
			return string(data)
		}
	}
	for _, child := range part.Parts {
		if body := findBody(child, mimeType); body != "" {
			return body
		}
	}
	return ""
}

var _ service.RecordFetcher = (*Client)(nil)
