// Package core contains the bank-link domain contracts, entities, and
// orchestration logic. Lower-level adapters must depend on this package; core
// must not depend on aggregator-specific or transport-specific adapters.
package core
