package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	TokenPayloadFormatJSONV1 = "active_token_json"
	TokenPayloadVersionV1    = 1
)

type TokenCodec interface {
	Format() string
	Version() int
	Encode(token ActiveToken) ([]byte, error)
	Decode(payload []byte) (ActiveToken, error)
}

type JSONTokenCodec struct{}

func (JSONTokenCodec) Format() string {
	return TokenPayloadFormatJSONV1
}

func (JSONTokenCodec) Version() int {
	return TokenPayloadVersionV1
}

type jsonTokenPayload struct {
	CredentialID string         `json:"credential_id,omitempty"`
	UserID       string         `json:"user_id,omitempty"`
	Provider     string         `json:"provider,omitempty"`
	TokenType    string         `json:"token_type,omitempty"`
	AccessToken  string         `json:"access_token,omitempty"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	Scopes       []string       `json:"scopes,omitempty"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
	Refreshable  bool           `json:"refreshable"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func (JSONTokenCodec) Encode(token ActiveToken) ([]byte, error) {
	payload := jsonTokenPayload{
		CredentialID: strings.TrimSpace(token.CredentialID),
		UserID:       strings.TrimSpace(token.UserID),
		Provider:     strings.TrimSpace(token.Provider),
		TokenType:    strings.TrimSpace(token.TokenType),
		AccessToken:  strings.TrimSpace(token.AccessToken),
		RefreshToken: strings.TrimSpace(token.RefreshToken),
		Scopes:       append([]string(nil), token.Scopes...),
		ExpiresAt:    cloneTimePointer(token.ExpiresAt),
		Refreshable:  token.Refreshable,
		Metadata:     copyAnyMap(token.Metadata),
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("core: encode token payload: %w", err)
	}
	return encoded, nil
}

func (JSONTokenCodec) Decode(payload []byte) (ActiveToken, error) {
	if len(payload) == 0 {
		return ActiveToken{}, fmt.Errorf("core: token payload is empty")
	}
	decoded := jsonTokenPayload{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return ActiveToken{}, fmt.Errorf("core: decode token payload: %w", err)
	}
	return ActiveToken{
		CredentialID: strings.TrimSpace(decoded.CredentialID),
		UserID:       strings.TrimSpace(decoded.UserID),
		Provider:     strings.TrimSpace(decoded.Provider),
		TokenType:    strings.TrimSpace(decoded.TokenType),
		AccessToken:  strings.TrimSpace(decoded.AccessToken),
		RefreshToken: strings.TrimSpace(decoded.RefreshToken),
		Scopes:       append([]string(nil), decoded.Scopes...),
		ExpiresAt:    cloneTimePointer(decoded.ExpiresAt),
		Refreshable:  decoded.Refreshable,
		Metadata:     copyAnyMap(decoded.Metadata),
	}, nil
}

// encodeTokenPayload serializes and, when a secret provider is configured,
// encrypts the token payload persisted on a credential.
func (s *Service) encodeTokenPayload(ctx context.Context, token ActiveToken) ([]byte, error) {
	codec := s.tokenCodec
	if codec == nil {
		codec = JSONTokenCodec{}
	}
	encoded, err := codec.Encode(token)
	if err != nil {
		return nil, err
	}
	if s.secretProvider == nil {
		return encoded, nil
	}
	encrypted, err := s.secretProvider.Encrypt(ctx, encoded)
	if err != nil {
		return nil, fmt.Errorf("core: encrypt token payload: %w", err)
	}
	return encrypted, nil
}

// decodeTokenPayload reverses encodeTokenPayload for a stored credential.
func (s *Service) decodeTokenPayload(ctx context.Context, credential Credential) (ActiveToken, error) {
	payload := credential.EncryptedPayload
	if s.secretProvider != nil {
		decrypted, err := s.secretProvider.Decrypt(ctx, payload)
		if err != nil {
			return ActiveToken{}, fmt.Errorf("core: decrypt token payload: %w", err)
		}
		payload = decrypted
	}
	codec := s.tokenCodec
	if codec == nil {
		codec = JSONTokenCodec{}
	}
	token, err := codec.Decode(payload)
	if err != nil {
		return ActiveToken{}, err
	}
	if strings.TrimSpace(token.CredentialID) == "" {
		token.CredentialID = credential.ID
	}
	if strings.TrimSpace(token.UserID) == "" {
		token.UserID = credential.UserID
	}
	if strings.TrimSpace(token.Provider) == "" {
		token.Provider = credential.Provider
	}
	if token.ExpiresAt == nil && credential.ExpiresAt != nil {
		token.ExpiresAt = cloneTimePointer(credential.ExpiresAt)
	}
	if !token.Refreshable && credential.Refreshable {
		token.Refreshable = credential.Refreshable
	}
	return token, nil
}
