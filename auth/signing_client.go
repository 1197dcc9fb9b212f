package auth

import (
	"fmt"
	"net/http"
)

// SigningClient decorates an HTTP client so every request carries the
// signer's credentials. It satisfies the client seam the provider
// adapters accept.
type SigningClient struct {
	Next   HTTPDoer
	Signer RequestSigner
}

func NewSigningClient(next HTTPDoer, signer RequestSigner) *SigningClient {
	if next == nil {
		next = http.DefaultClient
	}
	return &SigningClient{Next: next, Signer: signer}
}

func (c *SigningClient) Do(req *http.Request) (*http.Response, error) {
	if c == nil || c.Next == nil {
		return nil, fmt.Errorf("auth: signing client has no next client")
	}
	if c.Signer != nil {
		if err := c.Signer.Sign(req); err != nil {
			return nil, err
		}
	}
	return c.Next.Do(req)
}
