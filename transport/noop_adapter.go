package transport

import (
	"context"
	"fmt"
	"strings"
)

// UnsupportedAdapter rejects every delivery. Registered for kinds a
// deployment knows about but has not configured an endpoint for.
type UnsupportedAdapter struct {
	kind   string
	reason string
}

func NewUnsupportedAdapter(kind string, reason string) *UnsupportedAdapter {
	return &UnsupportedAdapter{
		kind:   strings.TrimSpace(strings.ToLower(kind)),
		reason: strings.TrimSpace(reason),
	}
}

func (a *UnsupportedAdapter) Kind() string {
	if a == nil {
		return ""
	}
	return a.kind
}

func (a *UnsupportedAdapter) Do(context.Context, Request) (Response, error) {
	if a == nil {
		return Response{}, fmt.Errorf("transport: adapter is nil")
	}
	if a.reason != "" {
		return Response{}, fmt.Errorf(
			"transport: %s adapter is not configured: %s",
			a.kind,
			a.reason,
		)
	}
	return Response{}, fmt.Errorf(
		"transport: %s adapter is not configured",
		a.kind,
	)
}

var _ Adapter = (*UnsupportedAdapter)(nil)
