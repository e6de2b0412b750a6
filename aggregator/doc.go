// Package aggregator implements the open banking data provider clients. The
// HTTP client targets TrueLayer-compatible APIs; the sandbox client serves
// local development and tests without network access.
package aggregator
