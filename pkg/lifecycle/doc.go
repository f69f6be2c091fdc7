// Package lifecycle manages worker incarnations from birth to
// retirement.
//
// A worker moves forward through Active, Drifting, SunsetPending and
// Retired, driven by its drift score. Crossing the low watermark is
// advisory; crossing the sunset watermark marks the worker for
// retirement. The sunset procedure exports the worker's learned
// patterns to the external vault and only a successful export moves the
// record to Retired. Retired DSNs are never reused; a successor always
// registers with a fresh identity at drift score zero.
//
// Patch application is idempotent by predicate ID, and a predicate
// below the confidence floor reports not-applied rather than failing.
package lifecycle
