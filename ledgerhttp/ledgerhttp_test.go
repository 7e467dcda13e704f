package ledgerhttp

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/opgate/opgate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validKeyHex = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

// --- signing tests ---

func TestParsePrivateKey_Valid(t *testing.T) {
	key, err := parsePrivateKey(validKeyHex)
	require.NoError(t, err)
	assert.NotNil(t, key)
}

func TestParsePrivateKey_With0xPrefix(t *testing.T) {
	key, err := parsePrivateKey("0x" + validKeyHex)
	require.NoError(t, err)
	assert.NotNil(t, key)
}

func TestParsePrivateKey_InvalidHex(t *testing.T) {
	_, err := parsePrivateKey("not-hex-at-all")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid signing key hex")
}

func TestParsePrivateKey_WrongLength(t *testing.T) {
	_, err := parsePrivateKey("0123456789abcdef") // 8 bytes
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "must be 32 bytes")
}

func TestSignRequest_Deterministic(t *testing.T) {
	key, err := parsePrivateKey(validKeyHex)
	require.NoError(t, err)

	body := []byte(`{"amount":2}`)
	ts := int64(1700000000000000000)

	// RFC6979 is deterministic.
	assert.Equal(t, signRequest(key, body, ts), signRequest(key, body, ts))
}

func TestSignRequest_EmptyBody(t *testing.T) {
	key, err := parsePrivateKey(validKeyHex)
	require.NoError(t, err)

	sig := signRequest(key, nil, 1700000000000000000)
	raw, err := base64.StdEncoding.DecodeString(sig)
	require.NoError(t, err)
	assert.Len(t, raw, 64)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func TestSigningTransport_SetsHeaders(t *testing.T) {
	fixedNow := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var capturedReq *http.Request
	var capturedBody []byte

	inner := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		capturedReq = req
		capturedBody, _ = io.ReadAll(req.Body)
		return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader("{}"))}, nil
	})

	transport := newSigningTransport(inner, validKeyHex)
	transport.nowFunc = func() time.Time { return fixedNow }

	req, _ := http.NewRequest("POST", "https://ledger.test/reservations", strings.NewReader(`{"amount":1}`))

	resp, err := transport.RoundTrip(req)
	require.NoError(t, err)
	resp.Body.Close()

	sig := capturedReq.Header.Get("X-Opgate-Signature")
	rawSig, err := base64.StdEncoding.DecodeString(sig)
	require.NoError(t, err)
	assert.Len(t, rawSig, 64)

	assert.NotEmpty(t, capturedReq.Header.Get("X-Opgate-Pubkey"))
	assert.Equal(t, fmt.Sprintf("%d", fixedNow.UnixNano()), capturedReq.Header.Get("X-Opgate-Timestamp"))

	// Body must survive the signing read.
	assert.Equal(t, `{"amount":1}`, string(capturedBody))
}

func TestSigningTransport_InvalidKey(t *testing.T) {
	inner := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: 200}, nil
	})

	transport := newSigningTransport(inner, "bad-key")
	req, _ := http.NewRequest("POST", "https://ledger.test/reservations", strings.NewReader("{}"))

	_, err := transport.RoundTrip(req)
	assert.Error(t, err)
}

func TestSigningTransport_SignatureVerifies(t *testing.T) {
	fixedNow := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	var capturedSig, capturedTS string
	var capturedBody []byte

	inner := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		capturedSig = req.Header.Get("X-Opgate-Signature")
		capturedTS = req.Header.Get("X-Opgate-Timestamp")
		capturedBody, _ = io.ReadAll(req.Body)
		return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader("{}"))}, nil
	})

	transport := newSigningTransport(inner, validKeyHex)
	transport.nowFunc = func() time.Time { return fixedNow }

	req, _ := http.NewRequest("POST", "https://ledger.test/reservations", strings.NewReader(`{"amount":2}`))
	resp, err := transport.RoundTrip(req)
	require.NoError(t, err)
	resp.Body.Close()

	privKey, _ := parsePrivateKey(validKeyHex)

	bodyHash := sha256.Sum256(capturedBody)
	message := hex.EncodeToString(bodyHash[:]) + capturedTS
	digest := sha256.Sum256([]byte(message))

	rawSig, err := base64.StdEncoding.DecodeString(capturedSig)
	require.NoError(t, err)

	r := new(secp256k1.ModNScalar)
	r.SetByteSlice(rawSig[:32])
	s := new(secp256k1.ModNScalar)
	s.SetByteSlice(rawSig[32:64])

	sig := ecdsa.NewSignature(r, s)
	assert.True(t, sig.Verify(digest[:], privKey.PubKey()))
}

// --- client tests ---

func TestCreateReservation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/reservations", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var in reservationRequestBody
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		assert.Equal(t, "image", in.ResourceType)
		assert.Equal(t, int64(2), in.Amount)
		assert.NotEmpty(t, in.RequestKey)

		now := time.Now().UTC()
		json.NewEncoder(w).Encode(reservationBody{
			ID:           "res-1",
			SubjectID:    in.SubjectID,
			ResourceType: in.ResourceType,
			Amount:       in.Amount,
			State:        "pending",
			CreatedAt:    now,
			ExpiresAt:    now.Add(30 * time.Second),
		})
	}))
	defer srv.Close()

	cl := New(srv.URL, WithAPIKey("test-key"))
	res, err := cl.CreateReservation(context.Background(), opgate.ReservationRequest{
		SubjectID:    "user-1",
		ResourceType: opgate.ResourceImage,
		Amount:       2,
		RequestKey:   "key-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "res-1", res.ID)
	assert.Equal(t, opgate.ReservationPending, res.State)
	assert.Equal(t, opgate.ResourceImage, res.ResourceType)
}

func TestApproveReservation_Paths(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
	}))
	defer srv.Close()

	cl := New(srv.URL)
	require.NoError(t, cl.ApproveReservation(context.Background(), "res-1"))
	assert.Equal(t, "/reservations/res-1/approve", gotPath)

	require.NoError(t, cl.RejectReservation(context.Background(), "res-1"))
	assert.Equal(t, "/reservations/res-1/reject", gotPath)
}

func TestBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "user-1", r.URL.Query().Get("subject_id"))
		json.NewEncoder(w).Encode(map[string]balanceBody{
			"image": {Total: 10, Used: 3, Remaining: 7},
			"video": {Total: 5, Used: 5, Remaining: 0},
		})
	}))
	defer srv.Close()

	cl := New(srv.URL)
	balances, err := cl.Balance(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), balances[opgate.ResourceImage].Remaining)
	assert.Equal(t, int64(0), balances[opgate.ResourceVideo].Remaining)
}

func TestSessionAndSteps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sessions/sess-1":
			json.NewEncoder(w).Encode(sessionBody{ID: "sess-1", State: "researching", OriginalQuestion: "q"})
		case "/sessions/sess-1/steps":
			json.NewEncoder(w).Encode([]stepBody{
				{ID: "s1", SessionID: "sess-1", StepIndex: 0, Type: "search", State: "completed"},
				{ID: "s2", SessionID: "sess-1", StepIndex: 1, Type: "analysis", State: "pending"},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cl := New(srv.URL)

	sess, err := cl.Session(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, opgate.SessionResearching, sess.State)

	steps, err := cl.Steps(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, opgate.StepTypeSearch, steps[0].Type)
	assert.Equal(t, opgate.StepPending, steps[1].State)
}

func TestJobsURL_Separate(t *testing.T) {
	jobs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(sessionBody{ID: "sess-1", State: "planning"})
	}))
	defer jobs.Close()

	cl := New("https://ledger.invalid", WithJobsURL(jobs.URL))
	sess, err := cl.Session(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, opgate.SessionPlanning, sess.State)
}

func errServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		call   func(*Client) error
		want   error
	}{
		{"401 unauthorized", 401, "", approveCall, opgate.ErrNotAuthenticated},
		{"403 forbidden", 403, "", approveCall, opgate.ErrNotAuthenticated},
		{"402 payment required", 402, "", approveCall, opgate.ErrInsufficientBalance},
		{"409 conflict", 409, "", approveCall, opgate.ErrInsufficientBalance},
		{"typed insufficient_balance", 400, `{"error":{"code":"insufficient_balance"}}`, approveCall, opgate.ErrInsufficientBalance},
		{"410 gone", 410, "", approveCall, opgate.ErrReservationExpired},
		{"404 reservation", 404, "", approveCall, opgate.ErrReservationNotFound},
		{"404 session", 404, "", sessionCall, opgate.ErrSessionNotFound},
		{"500 unavailable", 500, "", approveCall, opgate.ErrLedgerUnavailable},
		{"503 unavailable", 503, "", sessionCall, opgate.ErrLedgerUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := errServer(t, tt.status, tt.body)
			defer srv.Close()

			err := tt.call(New(srv.URL))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func approveCall(cl *Client) error {
	return cl.ApproveReservation(context.Background(), "res-1")
}

func sessionCall(cl *Client) error {
	_, err := cl.Session(context.Background(), "sess-1")
	return err
}

func TestConnectionFailureIsRetryable(t *testing.T) {
	cl := New("http://127.0.0.1:1",
		WithHTTPClient(&http.Client{Timeout: 200 * time.Millisecond}))

	err := cl.ApproveReservation(context.Background(), "res-1")
	assert.ErrorIs(t, err, opgate.ErrLedgerUnavailable)
	assert.True(t, opgate.IsRetryable(err))
}
