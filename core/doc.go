// Package core contains the canonical integration upkeep contracts, entities,
// and orchestration logic: token refresh and trigger resource lifecycle.
// Lower-level adapters must depend on this package; core must not depend on
// provider-specific or transport-specific adapters.
package core
