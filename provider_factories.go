package integrations

import (
	"github.com/nstoddard17/chainreact-app-9e-sub013/core"
	"github.com/nstoddard17/chainreact-app-9e-sub013/providers"
	"github.com/nstoddard17/chainreact-app-9e-sub013/providers/microsoft"
	"github.com/nstoddard17/chainreact-app-9e-sub013/providers/trello"
	"github.com/nstoddard17/chainreact-app-9e-sub013/transport"
)

func TrelloProvider(cfg trello.Config) (core.ProviderAdapter, error) {
	return trello.New(cfg)
}

func MicrosoftProvider(cfg microsoft.Config) (core.ProviderAdapter, error) {
	return microsoft.New(cfg)
}

// OAuth2Provider builds a token-only adapter for any provider that speaks
// the standard refresh_token grant and needs no trigger surface.
func OAuth2Provider(cfg providers.OAuth2Config) (core.ProviderAdapter, error) {
	return providers.NewOAuth2Adapter(cfg)
}

// WorkflowEventSink builds the delivery sink that forwards verified
// trigger events to the workflow engine. Pass the result to
// WithTriggerEventSink.
func WorkflowEventSink(cfg transport.SinkConfig) (core.TriggerEventSink, error) {
	return transport.NewEventSink(nil, cfg)
}
