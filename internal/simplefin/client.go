// Package simplefin fetches bank transactions from a SimpleFIN bridge.
package simplefin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Veraticus/the-spice-must-recur/internal/common"
	"github.com/Veraticus/the-spice-must-recur/internal/model"
	"github.com/Veraticus/the-spice-must-recur/internal/service"
	"github.com/shopspring/decimal"
)

// Config configures the SimpleFIN feed. AccessURL wins over Token; a Token is claimed
// once and the resulting access URL is kept in StateFile.
type Config struct {
	Token     string `mapstructure:"token"`
	AccessURL string `mapstructure:"access_url"`
	StateFile string `mapstructure:"state_file"`
}

// Validate checks that some form of access is configured.
func (c *Config) Validate() error {
	if c.AccessURL == "" && c.Token == "" && c.StateFile == "" {
		return fmt.Errorf("%w: simplefin.access_url or simplefin.token is required", common.ErrMissingConfig)
	}
	if c.AccessURL != "" && !isHTTPURL(c.AccessURL) {
		return fmt.Errorf("%w: simplefin.access_url must be an http(s) URL", common.ErrInvalidConfig)
	}
	return nil
}

// Client implements service.RecordFetcher for SimpleFIN.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	accessURL  string
	retryOpts  service.RetryOptions
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithRetryOptions replaces the default retry policy.
func WithRetryOptions(opts service.RetryOptions) Option {
	return func(c *Client) { c.retryOpts = opts }
}

// NewClient creates a client, claiming the setup token if no access URL is known yet.
func NewClient(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := newClient(cfg.AccessURL, opts...)
	if c.accessURL == "" {
		auth, err := LoadOrClaimAuth(ctx, c.httpClient, cfg.Token, cfg.StateFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load SimpleFIN auth: %w", err)
		}
		c.accessURL = auth.AccessURL
	}
	return c, nil
}

// NewClientWithAccessURL creates a client for an already claimed access URL.
func NewClientWithAccessURL(accessURL string, opts ...Option) *Client {
	return newClient(accessURL, opts...)
}

func newClient(accessURL string, opts ...Option) *Client {
	c := &Client{
		accessURL:  strings.TrimRight(accessURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default().With("component", "simplefin"),
		retryOpts: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SimpleFIN API response types.
type accountSet struct {
	Errors   []string  `json:"errors"`
	Accounts []account `json:"accounts"`
}

type account struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Currency     string        `json:"currency"`
	Transactions []transaction `json:"transactions"`
}

type transaction struct {
	ID          string `json:"id"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
	Payee       string `json:"payee"`
	Posted      int64  `json:"posted"`
	Pending     bool   `json:"pending"`
}

// FetchRecords fetches posted debits in [startDate, endDate].
func (c *Client) FetchRecords(ctx context.Context, startDate, endDate time.Time) ([]model.ProviderRecord, error) {
	if startDate.After(endDate) {
		return nil, errors.New("start date must be before end date")
	}

	q := url.Values{}
	q.Set("start-date", strconv.FormatInt(startDate.Unix(), 10))
	// end-date is exclusive
	q.Set("end-date", strconv.FormatInt(endDate.AddDate(0, 0, 1).Unix(), 10))

	set, err := c.accounts(ctx, q)
	if err != nil {
		return nil, err
	}

	var records []model.ProviderRecord
	for _, acct := range set.Accounts {
		for _, tx := range acct.Transactions {
			posted := time.Unix(tx.Posted, 0).UTC()
			if posted.Before(startDate) || posted.After(endDate) {
				continue
			}
			rec, ok := transactionRecord(acct, tx)
			if !ok {
				continue
			}
			records = append(records, rec)
		}
	}

	c.logger.Info("fetched transactions", "accounts", len(set.Accounts), "records", len(records))
	return records, nil
}

// GetAccounts returns the IDs of the accounts the access URL can read.
func (c *Client) GetAccounts(ctx context.Context) ([]string, error) {
	q := url.Values{}
	q.Set("balances-only", "1")
	set, err := c.accounts(ctx, q)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(set.Accounts))
	for _, acct := range set.Accounts {
		ids = append(ids, acct.ID)
	}
	return ids, nil
}

func (c *Client) accounts(ctx context.Context, q url.Values) (*accountSet, error) {
	u, err := url.Parse(c.accessURL + "/accounts")
	if err != nil {
		return nil, fmt.Errorf("failed to parse access URL: %w", err)
	}
	u.RawQuery = q.Encode()

	var set accountSet
	err = common.WithRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return &common.RetryableError{Err: fmt.Errorf("failed to create request: %w", err), Retryable: false}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &common.RetryableError{Err: fmt.Errorf("failed to fetch accounts: %w: %w", common.ErrProviderConnection, err), Retryable: true}
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
			return statusError(resp.StatusCode, strings.TrimSpace(string(body)))
		}

		set = accountSet{}
		if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
			return &common.RetryableError{Err: fmt.Errorf("failed to decode response: %w", err), Retryable: false}
		}
		return nil
	}, c.retryOpts)
	if err != nil {
		return nil, err
	}

	for _, msg := range set.Errors {
		c.logger.Warn("SimpleFIN reported a problem", "message", msg)
	}
	return &set, nil
}

// statusError marks rate limits and server errors retryable.
func statusError(code int, body string) error {
	switch {
	case code == http.StatusTooManyRequests:
		return &common.RetryableError{Err: fmt.Errorf("%w: SimpleFIN returned %d", common.ErrProviderRateLimit, code), Retryable: true}
	case code >= 500:
		return &common.RetryableError{Err: fmt.Errorf("%w: SimpleFIN returned %d - %s", common.ErrProviderConnection, code, body), Retryable: true}
	case code == http.StatusForbidden || code == http.StatusUnauthorized:
		return &common.RetryableError{Err: fmt.Errorf("SimpleFIN access revoked or invalid (%d); claim a new setup token", code), Retryable: false}
	default:
		return &common.RetryableError{Err: fmt.Errorf("SimpleFIN API error: %d - %s", code, body), Retryable: false}
	}
}

// transactionRecord maps a posted debit to a provider record. SimpleFIN amounts are
// signed decimal strings with negative values for money out.
func transactionRecord(acct account, tx transaction) (model.ProviderRecord, bool) {
	if tx.Pending {
		return model.ProviderRecord{}, false
	}
	amount, err := decimal.NewFromString(tx.Amount)
	if err != nil || !amount.IsNegative() {
		return model.ProviderRecord{}, false
	}

	description := strings.TrimSpace(tx.Description)
	merchant := description
	if payee := strings.TrimSpace(tx.Payee); payee != "" {
		merchant = payee
	}

	rec := model.ProviderRecord{
		Source:               model.SourceTransaction,
		SubjectOrDescription: description,
		BodyOrMerchantString: merchant,
		SenderOrAccountRef:   acct.ID,
		Amount:               amount.StringFixed(2),
		Currency:             currencyCode(acct.Currency),
		OccurredAt:           time.Unix(tx.Posted, 0).UTC().Format(time.RFC3339),
		RawIdentifier:        acct.ID + "_" + tx.ID,
	}
	if tx.Payee != "" {
		rec.MerchantHint = normalizeMerchant(tx.Payee)
	}
	return rec, true
}

// currencyCode drops custom currencies, which SimpleFIN names by URL.
func currencyCode(currency string) string {
	if len(currency) == 3 {
		return strings.ToUpper(currency)
	}
	return ""
}

// normalizeMerchant strips corporate suffixes and title-cases a payee.
func normalizeMerchant(raw string) string {
	words := strings.Fields(strings.ToLower(raw))
	for len(words) > 1 {
		last := words[len(words)-1]
		if last != "llc" && last != "inc" && last != "corp" && last != "inc." && last != "co" {
			break
		}
		words = words[:len(words)-1]
	}
	for i, w := range words {
		r := []rune(w)
		words[i] = strings.ToUpper(string(r[0])) + string(r[1:])
	}
	return strings.Join(words, " ")
}

var _ service.RecordFetcher = (*Client)(nil)
