package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAPIKeyHeader = "X-API-Key"
	defaultHMACHeader   = "X-Signature"
	defaultTimeHeader   = "X-Timestamp"
	defaultKeyIDHeader  = "X-Key-Id"
)

// RequestSigner attaches credentials to an outbound provider request.
type RequestSigner interface {
	Sign(req *http.Request) error
}

// BearerSigner injects the current token from a TokenSource.
type BearerSigner struct {
	Source TokenSource
}

func NewBearerSigner(source TokenSource) *BearerSigner {
	return &BearerSigner{Source: source}
}

func (s *BearerSigner) Sign(req *http.Request) error {
	if s == nil || s.Source == nil {
		return fmt.Errorf("auth: bearer signer requires a token source")
	}
	if req == nil {
		return fmt.Errorf("auth: request is nil")
	}
	token, err := s.Source.Token(req.Context())
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token.AccessToken))
	return nil
}

// APIKeySigner places a static key in a header or query parameter.
type APIKeySigner struct {
	Key        string
	Header     string
	Prefix     string
	QueryParam string
}

func NewAPIKeySigner(key string) *APIKeySigner {
	return &APIKeySigner{Key: strings.TrimSpace(key), Header: defaultAPIKeyHeader}
}

func (s *APIKeySigner) Sign(req *http.Request) error {
	if s == nil || strings.TrimSpace(s.Key) == "" {
		return fmt.Errorf("auth: api key signer requires a key")
	}
	if req == nil {
		return fmt.Errorf("auth: request is nil")
	}

	if param := strings.TrimSpace(s.QueryParam); param != "" {
		query := req.URL.Query()
		query.Set(param, s.Key)
		req.URL.RawQuery = query.Encode()
		return nil
	}

	header := firstNonEmpty(s.Header, defaultAPIKeyHeader)
	value := s.Key
	if prefix := strings.TrimSpace(s.Prefix); prefix != "" {
		value = prefix + " " + value
	}
	req.Header.Set(header, value)
	return nil
}

// HMACSigner signs method, path, timestamp, and body with a shared
// secret so the receiver can verify origin and replay window.
type HMACSigner struct {
	Secret          string
	KeyID           string
	SignatureHeader string
	TimestampHeader string
	KeyIDHeader     string
	Now             func() time.Time
}

func NewHMACSigner(secret string, keyID string) *HMACSigner {
	return &HMACSigner{
		Secret:          strings.TrimSpace(secret),
		KeyID:           strings.TrimSpace(keyID),
		SignatureHeader: defaultHMACHeader,
		TimestampHeader: defaultTimeHeader,
		KeyIDHeader:     defaultKeyIDHeader,
	}
}

func (s *HMACSigner) Sign(req *http.Request) error {
	if s == nil || strings.TrimSpace(s.Secret) == "" {
		return fmt.Errorf("auth: hmac signer requires a secret")
	}
	if req == nil {
		return fmt.Errorf("auth: request is nil")
	}

	now := s.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	timestamp := strconv.FormatInt(now().UTC().Unix(), 10)

	var body []byte
	if req.GetBody != nil {
		reader, err := req.GetBody()
		if err != nil {
			return fmt.Errorf("auth: read request body for signing: %w", err)
		}
		body, err = io.ReadAll(reader)
		_ = reader.Close()
		if err != nil {
			return fmt.Errorf("auth: read request body for signing: %w", err)
		}
	}

	canonical := strings.Join([]string{
		strings.ToUpper(req.Method),
		req.URL.Path,
		timestamp,
		hex.EncodeToString(sha256Sum(body)),
	}, "\n")

	mac := hmac.New(sha256.New, []byte(s.Secret))
	_, _ = mac.Write([]byte(canonical))
	signature := hex.EncodeToString(mac.Sum(nil))

	req.Header.Set(firstNonEmpty(s.SignatureHeader, defaultHMACHeader), signature)
	req.Header.Set(firstNonEmpty(s.TimestampHeader, defaultTimeHeader), timestamp)
	if keyID := strings.TrimSpace(s.KeyID); keyID != "" {
		req.Header.Set(firstNonEmpty(s.KeyIDHeader, defaultKeyIDHeader), keyID)
	}
	return nil
}

func sha256Sum(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

var (
	_ RequestSigner = (*BearerSigner)(nil)
	_ RequestSigner = (*APIKeySigner)(nil)
	_ RequestSigner = (*HMACSigner)(nil)
)
