package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/nstoddard17/chainreact-app-9e-sub013/core"
)

const triggerResourceCacheKeyPrefix = "integrations::trigger_resource::v1"

// CachedTriggerResourceStore fronts a TriggerResourceStore with a cache on
// the external-id lookup, which sits on the hot path of every inbound
// webhook delivery. Writes go through to the base store and invalidate the
// affected keys.
type CachedTriggerResourceStore struct {
	base  core.TriggerResourceStore
	cache repositorycache.CacheService
}

func NewCachedTriggerResourceStore(
	base core.TriggerResourceStore,
	cacheService repositorycache.CacheService,
) (*CachedTriggerResourceStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base trigger resource store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: trigger resource cache service is required")
	}
	return &CachedTriggerResourceStore{base: base, cache: cacheService}, nil
}

// TriggerResourceCacheKey returns the deterministic cache key contract for
// external-id reads: integrations::trigger_resource::v1::<provider>::<external_id>
// with each segment URL-path escaped.
func TriggerResourceCacheKey(provider, externalID string) (string, error) {
	provider = strings.TrimSpace(provider)
	externalID = strings.TrimSpace(externalID)
	if provider == "" || externalID == "" {
		return "", fmt.Errorf("sqlstore: provider and external id are required for cache key")
	}
	segments := []string{
		url.PathEscape(provider),
		url.PathEscape(externalID),
	}
	return strings.Join(append([]string{triggerResourceCacheKeyPrefix}, segments...), "::"), nil
}

func (s *CachedTriggerResourceStore) GetByExternalID(ctx context.Context, provider, externalID string) (core.TriggerResource, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.TriggerResource{}, fmt.Errorf("sqlstore: cached trigger resource store is not configured")
	}
	cacheKey, err := TriggerResourceCacheKey(provider, externalID)
	if err != nil {
		return core.TriggerResource{}, err
	}

	resource, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.TriggerResource, error) {
		fetched, fetchErr := s.base.GetByExternalID(ctx, provider, externalID)
		if fetchErr != nil {
			return core.TriggerResource{}, fetchErr
		}
		return cloneTriggerResource(fetched), nil
	})
	if err != nil {
		return core.TriggerResource{}, err
	}
	return cloneTriggerResource(resource), nil
}

func (s *CachedTriggerResourceStore) Upsert(ctx context.Context, in core.UpsertTriggerResourceInput) (core.TriggerResource, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.TriggerResource{}, fmt.Errorf("sqlstore: cached trigger resource store is not configured")
	}
	out, err := s.base.Upsert(ctx, in)
	if err != nil {
		return core.TriggerResource{}, err
	}
	if invalidateErr := s.invalidate(ctx, out.Provider, out.ExternalID); invalidateErr != nil {
		return core.TriggerResource{}, invalidateErr
	}
	return out, nil
}

func (s *CachedTriggerResourceStore) UpdateState(ctx context.Context, id string, status string, reason string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached trigger resource store is not configured")
	}
	resource, err := s.base.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.base.UpdateState(ctx, id, status, reason); err != nil {
		return err
	}
	return s.invalidate(ctx, resource.Provider, resource.ExternalID)
}

func (s *CachedTriggerResourceStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached trigger resource store is not configured")
	}
	resource, err := s.base.Get(ctx, id)
	if err != nil {
		if errors.Is(err, core.ErrTriggerResourceNotFound) {
			return s.base.Delete(ctx, id)
		}
		return err
	}
	if err := s.base.Delete(ctx, id); err != nil {
		return err
	}
	return s.invalidate(ctx, resource.Provider, resource.ExternalID)
}

func (s *CachedTriggerResourceStore) DeleteByWorkflow(ctx context.Context, workflowID string) (int, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return 0, fmt.Errorf("sqlstore: cached trigger resource store is not configured")
	}
	resources, err := s.base.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return 0, err
	}
	deleted, err := s.base.DeleteByWorkflow(ctx, workflowID)
	if err != nil {
		return 0, err
	}
	for _, resource := range resources {
		if invalidateErr := s.invalidate(ctx, resource.Provider, resource.ExternalID); invalidateErr != nil {
			return deleted, invalidateErr
		}
	}
	return deleted, nil
}

func (s *CachedTriggerResourceStore) Get(ctx context.Context, id string) (core.TriggerResource, error) {
	if s == nil || s.base == nil {
		return core.TriggerResource{}, fmt.Errorf("sqlstore: cached trigger resource store is not configured")
	}
	return s.base.Get(ctx, id)
}

func (s *CachedTriggerResourceStore) ListByWorkflow(ctx context.Context, workflowID string) ([]core.TriggerResource, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached trigger resource store is not configured")
	}
	return s.base.ListByWorkflow(ctx, workflowID)
}

func (s *CachedTriggerResourceStore) ListByUserProvider(ctx context.Context, userID, provider string) ([]core.TriggerResource, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached trigger resource store is not configured")
	}
	return s.base.ListByUserProvider(ctx, userID, provider)
}

func (s *CachedTriggerResourceStore) ListExpiring(ctx context.Context, before time.Time) ([]core.TriggerResource, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached trigger resource store is not configured")
	}
	return s.base.ListExpiring(ctx, before)
}

func (s *CachedTriggerResourceStore) invalidate(ctx context.Context, provider, externalID string) error {
	if strings.TrimSpace(externalID) == "" {
		return nil
	}
	cacheKey, err := TriggerResourceCacheKey(provider, externalID)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

func cloneTriggerResource(resource core.TriggerResource) core.TriggerResource {
	cloned := resource
	cloned.ExpiresAt = cloneTimePointer(resource.ExpiresAt)
	cloned.Config = copyAnyMap(resource.Config)
	cloned.Metadata = copyAnyMap(resource.Metadata)
	return cloned
}

var _ core.TriggerResourceStore = (*CachedTriggerResourceStore)(nil)
