// Package bonusclient is the app-facing facade over the device identity
// provider and the bonus-claim API. It collapses concurrent claim
// attempts into one outstanding request and maps server outcomes onto a
// closed set the UI can branch on.
package bonusclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"roamly-claim-server/pkg/deviceid"
)

type Outcome string

const (
	OutcomeClaimed               Outcome = "claimed"
	OutcomeAlreadyClaimedDevice  Outcome = "already_claimed_device"
	OutcomeAlreadyClaimedAccount Outcome = "already_claimed_account"
)

var (
	// ErrClaimInFlight means another claim call is outstanding; the
	// caller should not retry until it resolves.
	ErrClaimInFlight = errors.New("claim already in flight")
	// ErrUnauthenticated means the access token was rejected;
	// re-authenticate before retrying.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInvalidArgument indicates a malformed request, i.e. a client
	// bug. Not retryable.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrTransient covers network failures and 5xx responses. Safe to
	// retry: a claim that actually committed resolves to an
	// already-claimed outcome, never a second credit.
	ErrTransient = errors.New("transient failure")
)

type ClaimResult struct {
	Outcome        Outcome
	CreditsAwarded int64
	Balance        int64
}

type EligibilityResult struct {
	Eligible bool
	Reason   string
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	identity   *deviceid.Provider

	mu    sync.Mutex
	token string

	inFlightMu sync.Mutex
	inFlight   bool
}

func New(baseURL string, identity *deviceid.Provider) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		identity:   identity,
	}
}

// SetToken installs the access token used for authenticated calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// ClaimStartupBonus requests the one-time bonus for this device and
// account. While one call is outstanding every further call returns
// ErrClaimInFlight without touching the network. Already-claimed
// outcomes are results, not errors: the UI shows a steady "already
// claimed" state for them.
func (c *Client) ClaimStartupBonus(ctx context.Context) (*ClaimResult, error) {
	c.inFlightMu.Lock()
	if c.inFlight {
		c.inFlightMu.Unlock()
		return nil, ErrClaimInFlight
	}
	c.inFlight = true
	c.inFlightMu.Unlock()

	defer func() {
		c.inFlightMu.Lock()
		c.inFlight = false
		c.inFlightMu.Unlock()
	}()

	fp, err := c.identity.Fingerprint()
	if err != nil {
		return nil, err
	}

	body, _ := json.Marshal(map[string]string{"fingerprint": fp})

	var payload struct {
		Status         string `json:"status"`
		CreditsAwarded int64  `json:"credits_awarded"`
		Balance        int64  `json:"balance"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/bonus/claim", bytes.NewReader(body), &payload); err != nil {
		return nil, err
	}

	outcome := Outcome(payload.Status)
	switch outcome {
	case OutcomeClaimed, OutcomeAlreadyClaimedDevice, OutcomeAlreadyClaimedAccount:
	default:
		return nil, fmt.Errorf("%w: unexpected claim status %q", ErrTransient, payload.Status)
	}

	return &ClaimResult{
		Outcome:        outcome,
		CreditsAwarded: payload.CreditsAwarded,
		Balance:        payload.Balance,
	}, nil
}

// CheckEligibility is advisory only; a positive answer does not reserve
// the claim.
func (c *Client) CheckEligibility(ctx context.Context) (*EligibilityResult, error) {
	fp, err := c.identity.Fingerprint()
	if err != nil {
		return nil, err
	}

	path := "/api/v1/bonus/eligibility?fingerprint=" + url.QueryEscape(fp)

	var payload struct {
		Eligible bool   `json:"eligible"`
		Reason   string `json:"reason"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}

	return &EligibilityResult{Eligible: payload.Eligible, Reason: payload.Reason}, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Code    string          `json:"code"`
	Error   string          `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body *bytes.Reader, out interface{}) error {
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	}
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if token := c.currentToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%w: malformed response: %v", ErrTransient, err)
	}

	if resp.StatusCode >= 400 {
		return classify(resp.StatusCode, env.Code, env.Error)
	}

	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%w: malformed response data: %v", ErrTransient, err)
		}
	}

	return nil
}

// classify branches on the symbolic code from the body, never on a
// bare numeric status that could shift across backend revisions.
func classify(status int, code, msg string) error {
	switch code {
	case "unauthenticated":
		return fmt.Errorf("%w: %s", ErrUnauthenticated, msg)
	case "invalid_argument":
		return fmt.Errorf("%w: %s", ErrInvalidArgument, msg)
	case "unavailable":
		return fmt.Errorf("%w: %s", ErrTransient, msg)
	}
	if status >= 500 {
		return fmt.Errorf("%w: server error (%s)", ErrTransient, msg)
	}
	return fmt.Errorf("%w: unexpected error code %q: %s", ErrTransient, code, msg)
}
