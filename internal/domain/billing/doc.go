// Package billing holds the domain model of the usage rating pipeline.
//
// Usage samples arrive as UsageEvents, are bucketed into BillingWindows and
// reduced into one UsageEntry per (resource, metric). Entries are priced into a
// Quotation of LineItems. Progress per (tenant, window) is tracked by
// LedgerRecords, which only ever change through a compare-and-swap on the
// LedgerRepository.
//
// Everything in this package is pure: no I/O, no clocks except the ones passed
// in, and no package-level mutable state. Run-scoped configuration is carried
// by an immutable Policy.
package billing
