package auth

import (
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"strings"
)

const (
	jwtAlgHS256 = "HS256"
	jwtAlgRS256 = "RS256"
)

// buildJWT assembles and signs a compact JWT. RS256 expects key to be a
// PEM-encoded RSA private key, HS256 a shared secret.
func buildJWT(keyID string, algorithm string, key string, claims map[string]any) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("auth: jwt signing key is required")
	}
	algorithm = strings.TrimSpace(strings.ToUpper(algorithm))
	if algorithm == "" {
		algorithm = jwtAlgRS256
	}

	header := map[string]any{
		"alg": algorithm,
		"typ": "JWT",
	}
	if strings.TrimSpace(keyID) != "" {
		header["kid"] = strings.TrimSpace(keyID)
	}

	headerRaw, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("auth: marshal jwt header: %w", err)
	}
	claimsRaw, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("auth: marshal jwt claims: %w", err)
	}

	signingInput := base64.RawURLEncoding.EncodeToString(headerRaw) +
		"." + base64.RawURLEncoding.EncodeToString(claimsRaw)

	var signature []byte
	switch algorithm {
	case jwtAlgHS256:
		mac := hmac.New(sha256.New, []byte(key))
		_, _ = mac.Write([]byte(signingInput))
		signature = mac.Sum(nil)
	case jwtAlgRS256:
		privateKey, err := parseRSAPrivateKey(key)
		if err != nil {
			return "", err
		}
		digest := sha256.Sum256([]byte(signingInput))
		signature, err = rsa.SignPKCS1v15(rand.Reader, privateKey, crypto.SHA256, digest[:])
		if err != nil {
			return "", fmt.Errorf("auth: sign jwt: %w", err)
		}
	default:
		return "", fmt.Errorf("auth: unsupported jwt signing algorithm %q", algorithm)
	}

	return signingInput + "." + base64.RawURLEncoding.EncodeToString(signature), nil
}

func parseRSAPrivateKey(pemKey string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemKey))
	if block == nil {
		return nil, fmt.Errorf("auth: jwt signing key is not valid PEM")
	}
	if parsed, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return parsed, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("auth: parse jwt signing key: %w", err)
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("auth: jwt signing key is not an RSA key")
	}
	return rsaKey, nil
}
