package ledgerhttp

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// signingTransport is an http.RoundTripper that signs outgoing
// requests with a secp256k1 key. The ledger verifies the signature
// against the advertised public key before acting on money-adjacent
// operations.
type signingTransport struct {
	base    http.RoundTripper
	hexKey  string
	nowFunc func() time.Time

	once    sync.Once
	privKey *secp256k1.PrivateKey
	pubHex  string
	keyErr  error
}

func newSigningTransport(base http.RoundTripper, hexKey string) *signingTransport {
	return &signingTransport{base: base, hexKey: hexKey}
}

func (t *signingTransport) now() time.Time {
	if t.nowFunc != nil {
		return t.nowFunc()
	}
	return time.Now()
}

// key parses the configured private key once.
func (t *signingTransport) key() (*secp256k1.PrivateKey, string, error) {
	t.once.Do(func() {
		t.privKey, t.keyErr = parsePrivateKey(t.hexKey)
		if t.keyErr == nil {
			t.pubHex = hex.EncodeToString(t.privKey.PubKey().SerializeCompressed())
		}
	})
	return t.privKey, t.pubHex, t.keyErr
}

// RoundTrip implements http.RoundTripper.
func (t *signingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	privKey, pubHex, err := t.key()
	if err != nil {
		return nil, fmt.Errorf("opgate/ledgerhttp: %w", err)
	}

	var body []byte
	if req.Body != nil {
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("opgate/ledgerhttp: read request body: %w", err)
		}
	}

	tsNanos := t.now().UnixNano()
	signature := signRequest(privKey, body, tsNanos)

	clone := req.Clone(req.Context())
	clone.Header.Set("X-Opgate-Signature", signature)
	clone.Header.Set("X-Opgate-Pubkey", pubHex)
	clone.Header.Set("X-Opgate-Timestamp", strconv.FormatInt(tsNanos, 10))

	clone.Body = io.NopCloser(bytes.NewReader(body))
	clone.ContentLength = int64(len(body))

	return t.base.RoundTrip(clone)
}

// parsePrivateKey decodes a hex string into a secp256k1 private key.
func parsePrivateKey(hexKey string) (*secp256k1.PrivateKey, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	hexKey = strings.TrimPrefix(hexKey, "0X")

	keyBytes, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid signing key hex: %w", err)
	}
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("signing key must be 32 bytes, got %d", len(keyBytes))
	}

	privKey := secp256k1.PrivKeyFromBytes(keyBytes)
	if privKey.Key.IsZero() {
		return nil, fmt.Errorf("signing key is zero")
	}
	return privKey, nil
}

// signRequest produces the ECDSA signature for a ledger request.
// Returns the base64-encoded raw signature (r || s, 64 bytes).
func signRequest(privKey *secp256k1.PrivateKey, body []byte, tsNanos int64) string {
	// 1. hex(SHA256(body))
	bodyHash := sha256.Sum256(body)
	payloadHex := hex.EncodeToString(bodyHash[:])

	// 2. message = payloadHex + timestamp
	message := payloadHex + strconv.FormatInt(tsNanos, 10)

	// 3. SHA256(message)
	digest := sha256.Sum256([]byte(message))

	// 4. ECDSA sign (RFC6979 deterministic, low-S by default in dcrd)
	compactSig := ecdsa.SignCompact(privKey, digest[:], false)

	// 5. Extract r || s (skip the recovery flag byte)
	return base64.StdEncoding.EncodeToString(compactSig[1:65])
}
