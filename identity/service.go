package identity

import (
	"context"
	"errors"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/nstoddard17/chainreact-app-9e-sub013/core"
)

// AccessTokenGetter is the slice of the credential service the profile
// service needs: a fresh token for the user/provider pair.
type AccessTokenGetter interface {
	GetValidAccessToken(ctx context.Context, userID, provider string) (core.ActiveToken, error)
}

// AccountProfileService fetches the provider-side account identity for
// a connected credential using a freshly validated access token.
type AccountProfileService struct {
	tokens   AccessTokenGetter
	resolver ProfileResolver
}

func NewAccountProfileService(tokens AccessTokenGetter, resolver ProfileResolver) (*AccountProfileService, error) {
	if tokens == nil {
		return nil, goerrors.NewValidation("identity: access token getter is required").
			WithTextCode(core.IntegrationErrorBadInput)
	}
	if resolver == nil {
		resolver = DefaultResolver()
	}
	return &AccountProfileService{tokens: tokens, resolver: resolver}, nil
}

func (s *AccountProfileService) GetAccountProfile(ctx context.Context, userID, provider string) (AccountProfile, error) {
	if s == nil {
		return AccountProfile{}, profileNotFound(nil)
	}
	if strings.TrimSpace(userID) == "" {
		return AccountProfile{}, goerrors.NewValidation("identity: user id is required").
			WithTextCode(core.IntegrationErrorBadInput)
	}
	if strings.TrimSpace(provider) == "" {
		return AccountProfile{}, goerrors.NewValidation("identity: provider is required").
			WithTextCode(core.IntegrationErrorBadInput)
	}

	token, err := s.tokens.GetValidAccessToken(ctx, userID, provider)
	if err != nil {
		return AccountProfile{}, err
	}
	profile, err := s.resolver.Resolve(ctx, provider, token)
	if err != nil {
		var notFound *ProfileNotFoundError
		if errors.As(err, &notFound) {
			return AccountProfile{}, notFound.ToIntegrationError()
		}
		return AccountProfile{}, err
	}
	return profile, nil
}
