// Package ledgerhttp implements opgate.Ledger and opgate.JobStore over
// the ledger/job service REST API.
package ledgerhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/opgate/opgate"
)

// Client talks to the remote ledger and job service.
type Client struct {
	baseURL    string
	jobsURL    string
	apiKey     string
	httpClient *http.Client
}

var (
	_ opgate.Ledger   = (*Client)(nil)
	_ opgate.JobStore = (*Client)(nil)
)

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithAPIKey sets the bearer token sent with every request.
func WithAPIKey(key string) Option {
	return func(cl *Client) { cl.apiKey = key }
}

// WithJobsURL sets a separate base URL for the job service. By default
// sessions are fetched from the ledger base URL.
func WithJobsURL(u string) Option {
	return func(cl *Client) { cl.jobsURL = strings.TrimRight(u, "/") }
}

// WithSigningKey enables request signing with the given hex-encoded
// secp256k1 private key. Signed requests carry a signature over the
// body digest and a timestamp, so the ledger can verify the caller.
func WithSigningKey(hexKey string) Option {
	return func(cl *Client) {
		base := cl.httpClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		cl.httpClient = &http.Client{
			Transport: newSigningTransport(base, hexKey),
			Timeout:   cl.httpClient.Timeout,
		}
	}
}

// New creates a client for the given ledger base URL.
func New(baseURL string, opts ...Option) *Client {
	cl := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(cl)
	}
	if cl.jobsURL == "" {
		cl.jobsURL = cl.baseURL
	}
	return cl
}

// Wire formats.

type reservationRequestBody struct {
	ResourceType string `json:"resource_type"`
	Amount       int64  `json:"amount"`
	Description  string `json:"description,omitempty"`
	SubjectID    string `json:"subject_id"`
	RequestKey   string `json:"request_key,omitempty"`
}

type reservationBody struct {
	ID           string    `json:"id"`
	SubjectID    string    `json:"subject_id"`
	ResourceType string    `json:"resource_type"`
	Amount       int64     `json:"amount"`
	Description  string    `json:"description"`
	State        string    `json:"state"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type balanceBody struct {
	Total     int64 `json:"total"`
	Used      int64 `json:"used"`
	Remaining int64 `json:"remaining"`
}

type sessionBody struct {
	ID               string    `json:"id"`
	OriginalQuestion string    `json:"original_question"`
	State            string    `json:"state"`
	FinalAnswer      string    `json:"final_answer"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type stepBody struct {
	ID              string   `json:"id"`
	SessionID       string   `json:"session_id"`
	StepIndex       int      `json:"step_index"`
	Question        string   `json:"question"`
	Type            string   `json:"type"`
	State           string   `json:"state"`
	FinalAnswer     string   `json:"final_answer"`
	FinalConfidence *float64 `json:"final_confidence"`
}

type artifactBody struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Type      string    `json:"type"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateReservation places a pending claim against the ledger.
func (cl *Client) CreateReservation(ctx context.Context, req opgate.ReservationRequest) (opgate.Reservation, error) {
	body := reservationRequestBody{
		ResourceType: string(req.ResourceType),
		Amount:       req.Amount,
		Description:  req.Description,
		SubjectID:    req.SubjectID,
		RequestKey:   req.RequestKey,
	}

	var out reservationBody
	if err := cl.do(ctx, http.MethodPost, cl.baseURL+"/reservations", body, &out); err != nil {
		return opgate.Reservation{}, err
	}

	return opgate.Reservation{
		ID:           out.ID,
		SubjectID:    out.SubjectID,
		ResourceType: opgate.ResourceType(out.ResourceType),
		Amount:       out.Amount,
		Description:  out.Description,
		CreatedAt:    out.CreatedAt,
		ExpiresAt:    out.ExpiresAt,
		State:        opgate.ReservationState(out.State),
	}, nil
}

// ApproveReservation confirms a pending reservation.
func (cl *Client) ApproveReservation(ctx context.Context, reservationID string) error {
	u := cl.baseURL + "/reservations/" + url.PathEscape(reservationID) + "/approve"
	return cl.do(ctx, http.MethodPost, u, nil, nil)
}

// RejectReservation releases a pending reservation.
func (cl *Client) RejectReservation(ctx context.Context, reservationID string) error {
	u := cl.baseURL + "/reservations/" + url.PathEscape(reservationID) + "/reject"
	return cl.do(ctx, http.MethodPost, u, nil, nil)
}

// Balance returns the current balances for a subject.
func (cl *Client) Balance(ctx context.Context, subjectID string) (map[opgate.ResourceType]opgate.Balance, error) {
	u := cl.baseURL + "/balance?subject_id=" + url.QueryEscape(subjectID)

	var out map[string]balanceBody
	if err := cl.do(ctx, http.MethodGet, u, nil, &out); err != nil {
		return nil, err
	}

	balances := make(map[opgate.ResourceType]opgate.Balance, len(out))
	for rt, b := range out {
		balances[opgate.ResourceType(rt)] = opgate.Balance{
			Total:     b.Total,
			Used:      b.Used,
			Remaining: b.Remaining,
		}
	}
	return balances, nil
}

// Session fetches a session by ID.
func (cl *Client) Session(ctx context.Context, sessionID string) (opgate.ResearchSession, error) {
	u := cl.jobsURL + "/sessions/" + url.PathEscape(sessionID)

	var out sessionBody
	if err := cl.do(ctx, http.MethodGet, u, nil, &out); err != nil {
		return opgate.ResearchSession{}, err
	}

	return opgate.ResearchSession{
		ID:               out.ID,
		OriginalQuestion: out.OriginalQuestion,
		State:            opgate.SessionState(out.State),
		FinalAnswer:      out.FinalAnswer,
		CreatedAt:        out.CreatedAt,
		UpdatedAt:        out.UpdatedAt,
	}, nil
}

// Steps fetches all steps for a session.
func (cl *Client) Steps(ctx context.Context, sessionID string) ([]opgate.ResearchStep, error) {
	u := cl.jobsURL + "/sessions/" + url.PathEscape(sessionID) + "/steps"

	var out []stepBody
	if err := cl.do(ctx, http.MethodGet, u, nil, &out); err != nil {
		return nil, err
	}

	steps := make([]opgate.ResearchStep, len(out))
	for i, s := range out {
		steps[i] = opgate.ResearchStep{
			ID:              s.ID,
			SessionID:       s.SessionID,
			StepIndex:       s.StepIndex,
			Question:        s.Question,
			Type:            opgate.StepType(s.Type),
			State:           opgate.StepState(s.State),
			FinalAnswer:     s.FinalAnswer,
			FinalConfidence: s.FinalConfidence,
		}
	}
	return steps, nil
}

// Artifacts fetches the outputs recorded for a session.
func (cl *Client) Artifacts(ctx context.Context, sessionID string) ([]opgate.Artifact, error) {
	u := cl.jobsURL + "/sessions/" + url.PathEscape(sessionID) + "/artifacts"

	var out []artifactBody
	if err := cl.do(ctx, http.MethodGet, u, nil, &out); err != nil {
		return nil, err
	}

	artifacts := make([]opgate.Artifact, len(out))
	for i, a := range out {
		artifacts[i] = opgate.Artifact{
			ID:        a.ID,
			SessionID: a.SessionID,
			Type:      a.Type,
			Name:      a.Name,
			URL:       a.URL,
			CreatedAt: a.CreatedAt,
		}
	}
	return artifacts, nil
}

// do performs a request and decodes the response into out (when non-nil).
func (cl *Client) do(ctx context.Context, method, u string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("opgate/ledgerhttp: encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("opgate/ledgerhttp: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cl.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+cl.apiKey)
	}

	resp, err := cl.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", opgate.ErrLedgerUnavailable, err)
	}
	defer resp.Body.Close()

	if err := mapHTTPError(resp); err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("opgate/ledgerhttp: decode response: %w", err)
	}
	return nil
}

// mapHTTPError translates HTTP status codes (plus the typed error code
// in the body, when present) into the package sentinels.
func mapHTTPError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// Read body for error context, but don't fail if we can't.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	if eb.Error.Code == "insufficient_balance" {
		return opgate.ErrInsufficientBalance
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return opgate.ErrNotAuthenticated
	case http.StatusPaymentRequired, http.StatusConflict:
		return opgate.ErrInsufficientBalance
	case http.StatusGone:
		return opgate.ErrReservationExpired
	case http.StatusNotFound:
		if strings.Contains(resp.Request.URL.Path, "/sessions/") {
			return opgate.ErrSessionNotFound
		}
		return opgate.ErrReservationNotFound
	case http.StatusBadRequest:
		return fmt.Errorf("opgate/ledgerhttp: bad request: %s", string(body))
	default:
		return fmt.Errorf("%w: status %d", opgate.ErrLedgerUnavailable, resp.StatusCode)
	}
}
