package inbound

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/nstoddard17/chainreact-app-9e-sub013/core"
)

const (
	// SurfaceWebhook carries provider change notifications.
	SurfaceWebhook = "webhook"
	// SurfaceLifecycle carries provider subscription lifecycle notices
	// (reauthorization required, subscription removed, missed deliveries).
	SurfaceLifecycle = "lifecycle"
)

// Handler processes inbound requests for one surface.
type Handler interface {
	Surface() string
	Handle(ctx context.Context, req core.InboundRequest) (core.InboundResult, error)
}

// DeliveryKeyExtractor resolves the dedupe key for a delivery.
type DeliveryKeyExtractor func(req core.InboundRequest) (string, error)

// Dispatcher routes inbound requests to the handler registered for their
// surface, claiming each delivery key first so reprocessing a duplicate
// is a cheap acknowledgment.
type Dispatcher struct {
	Store      ClaimStore
	ExtractKey DeliveryKeyExtractor
	KeyTTL     time.Duration

	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewDispatcher(store ClaimStore) *Dispatcher {
	return &Dispatcher{
		Store:      store,
		ExtractKey: DefaultDeliveryKeyExtractor,
		KeyTTL:     10 * time.Minute,
		handlers:   map[string]Handler{},
	}
}

func (d *Dispatcher) Register(handler Handler) error {
	if d == nil {
		return inboundInternal("inbound: dispatcher is nil", nil)
	}
	if handler == nil {
		return inboundBadInput("inbound: handler is nil", nil)
	}
	surface := normalizeSurface(handler.Surface())
	if !isSupportedSurface(surface) {
		return inboundBadInput(
			fmt.Sprintf("inbound: unsupported surface %q", surface),
			map[string]any{"surface": surface},
		)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[surface]; exists {
		return inboundError(
			fmt.Sprintf("inbound: handler already registered for surface %q", surface),
			goerrors.CategoryConflict,
			http.StatusConflict,
			core.IntegrationErrorBadInput,
			map[string]any{"surface": surface},
		)
	}
	d.handlers[surface] = handler
	return nil
}

func (d *Dispatcher) Dispatch(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	if d == nil {
		return core.InboundResult{}, inboundInternal("inbound: dispatcher is nil", nil)
	}
	req.Provider = strings.TrimSpace(req.Provider)
	req.Surface = normalizeSurface(req.Surface)
	if req.Provider == "" {
		return core.InboundResult{}, inboundBadInput("inbound: provider is required", map[string]any{
			"surface": req.Surface,
		})
	}
	if !isSupportedSurface(req.Surface) {
		return core.InboundResult{}, inboundBadInput(
			fmt.Sprintf("inbound: unsupported surface %q", req.Surface),
			map[string]any{"provider": req.Provider, "surface": req.Surface},
		)
	}

	claimID := ""
	if d.Store != nil {
		extractor := d.ExtractKey
		if extractor == nil {
			extractor = DefaultDeliveryKeyExtractor
		}
		key, err := extractor(req)
		if err != nil {
			return core.InboundResult{}, inboundWrapError(
				err,
				goerrors.CategoryBadInput,
				"inbound: resolve delivery key",
				http.StatusBadRequest,
				core.IntegrationErrorBadInput,
				map[string]any{"provider": req.Provider, "surface": req.Surface},
			)
		}
		var accepted bool
		claimID, accepted, err = d.Store.Claim(ctx, req.Provider+":"+req.Surface+":"+key, d.keyTTL())
		if err != nil {
			return core.InboundResult{}, inboundWrapError(
				err,
				goerrors.CategoryOperation,
				"inbound: delivery claim failed",
				http.StatusInternalServerError,
				core.IntegrationErrorInternal,
				map[string]any{
					"provider":     req.Provider,
					"surface":      req.Surface,
					"delivery_key": key,
				},
			)
		}
		if !accepted {
			return core.InboundResult{
				Accepted:   true,
				StatusCode: http.StatusOK,
				Metadata: map[string]any{
					"provider": req.Provider,
					"surface":  req.Surface,
					"deduped":  true,
				},
			}, nil
		}
	}

	handler := d.handlerFor(req.Surface)
	if handler == nil {
		return core.InboundResult{}, inboundError(
			fmt.Sprintf("inbound: no handler registered for surface %q", req.Surface),
			goerrors.CategoryNotFound,
			http.StatusNotFound,
			core.IntegrationErrorNotFound,
			map[string]any{"provider": req.Provider, "surface": req.Surface},
		)
	}
	result, err := handler.Handle(ctx, req)
	if err != nil {
		handlerErr := inboundWrapError(
			err,
			goerrors.CategoryOperation,
			"inbound: handler execution failed",
			http.StatusBadGateway,
			core.IntegrationErrorInternal,
			map[string]any{"provider": req.Provider, "surface": req.Surface},
		)
		if failErr := d.failClaim(ctx, claimID, err); failErr != nil {
			return core.InboundResult{}, errors.Join(handlerErr, failErr)
		}
		return core.InboundResult{}, handlerErr
	}
	if retryable := !result.Accepted || result.StatusCode >= http.StatusInternalServerError; retryable {
		retryErr := inboundError(
			fmt.Sprintf("inbound: handler returned retryable status %d", result.StatusCode),
			goerrors.CategoryOperation,
			http.StatusBadGateway,
			core.IntegrationErrorInternal,
			map[string]any{
				"provider":    req.Provider,
				"surface":     req.Surface,
				"status_code": result.StatusCode,
			},
		)
		if failErr := d.failClaim(ctx, claimID, retryErr); failErr != nil {
			return result, errors.Join(retryErr, failErr)
		}
		return result, retryErr
	}

	if d.Store != nil && claimID != "" {
		if err := d.Store.Complete(ctx, claimID); err != nil {
			return core.InboundResult{}, inboundWrapError(
				err,
				goerrors.CategoryOperation,
				"inbound: complete delivery claim",
				http.StatusInternalServerError,
				core.IntegrationErrorInternal,
				map[string]any{"provider": req.Provider, "surface": req.Surface, "claim_id": claimID},
			)
		}
	}
	result.Metadata = ensureMetadata(result.Metadata)
	result.Metadata["provider"] = req.Provider
	result.Metadata["surface"] = req.Surface
	return result, nil
}

func (d *Dispatcher) failClaim(ctx context.Context, claimID string, cause error) error {
	if d.Store == nil || claimID == "" {
		return nil
	}
	if err := d.Store.Fail(ctx, claimID, cause, time.Time{}); err != nil {
		return inboundWrapError(
			err,
			goerrors.CategoryOperation,
			"inbound: mark delivery claim retryable",
			http.StatusInternalServerError,
			core.IntegrationErrorInternal,
			map[string]any{"claim_id": claimID},
		)
	}
	return nil
}

// DefaultDeliveryKeyExtractor prefers an explicit delivery id, then the
// subscription validation token, then a digest of the body. Providers
// without any of those cannot be deduped and are rejected.
func DefaultDeliveryKeyExtractor(req core.InboundRequest) (string, error) {
	if req.Metadata != nil {
		if value := trimAny(req.Metadata["delivery_id"]); value != "" {
			return value, nil
		}
		if value := trimAny(req.Metadata["message_id"]); value != "" {
			return value, nil
		}
	}
	if req.Headers != nil {
		if value := headerValue(req.Headers, "x-delivery-id"); value != "" {
			return value, nil
		}
		if value := headerValue(req.Headers, "x-ms-notification-id"); value != "" {
			return value, nil
		}
	}
	if req.Query != nil {
		if value := strings.TrimSpace(req.Query["validationToken"]); value != "" {
			return "handshake:" + value, nil
		}
	}
	if len(req.Body) > 0 {
		sum := sha256.Sum256(req.Body)
		return "body:" + hex.EncodeToString(sum[:]), nil
	}
	return "", inboundBadInput("inbound: delivery key is required for dedupe", map[string]any{
		"provider": req.Provider,
		"surface":  req.Surface,
	})
}

func (d *Dispatcher) keyTTL() time.Duration {
	if d != nil && d.KeyTTL > 0 {
		return d.KeyTTL
	}
	return 10 * time.Minute
}

func (d *Dispatcher) handlerFor(surface string) Handler {
	if d == nil {
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handlers[normalizeSurface(surface)]
}

func normalizeSurface(surface string) string {
	return strings.TrimSpace(strings.ToLower(surface))
}

func isSupportedSurface(surface string) bool {
	switch normalizeSurface(surface) {
	case SurfaceWebhook, SurfaceLifecycle:
		return true
	default:
		return false
	}
}

func trimAny(value any) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

func ensureMetadata(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return map[string]any{}
	}
	return metadata
}

func headerValue(headers map[string]string, key string) string {
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
