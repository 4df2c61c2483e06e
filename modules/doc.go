// Package modules hosts study module subpackages. It intentionally contains
// no production runtime code itself; this file exists to satisfy tooling
// (go vet, import guards) for the architectural tests that live alongside it.
//
// Study modules contribute generation plans, rules and dataset templates to
// the core service. They depend on the service-facing APIs in internal/core,
// internal/sim, internal/stats and pkg/studyapi, and reach persisted state
// exclusively through the store handed to their template binders. Modules
// must not import the storage driver tree (internal/infra) or the blob facade
// (internal/blob); the architecture test next to this file enforces that.
package modules
