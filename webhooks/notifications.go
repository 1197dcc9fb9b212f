package webhooks

import (
	"context"

	"github.com/nstoddard17/chainreact-app-9e-sub013/core"
)

// HandshakeReply is the response a provider expects to its subscription
// validation probe. A non-nil reply short-circuits normal processing.
type HandshakeReply struct {
	ContentType string
	Body        []byte
}

// HandshakeFunc inspects a request and reports whether it is a
// subscription validation probe rather than a notification delivery.
type HandshakeFunc func(req core.InboundRequest) (*HandshakeReply, bool)

// Notification is the provider-neutral form of one webhook delivery.
// A single delivery can batch several change and lifecycle notices.
type Notification struct {
	Events    []core.TriggerEvent
	Lifecycle []core.TriggerLifecycleEvent
}

// NotificationParser decodes a verified delivery into trigger notifications.
type NotificationParser interface {
	Parse(ctx context.Context, req core.InboundRequest) (Notification, error)
}

// ProviderWebhookTemplate bundles everything the receiver needs for one
// provider: how to answer its handshake, how to authenticate it, and how
// to decode its payload.
type ProviderWebhookTemplate struct {
	Provider  string
	Handshake HandshakeFunc
	Verifier  Verifier
	Parser    NotificationParser
}
