/*
Package registry is the authoritative mapping of module and worker
identity to current state.

Every read returns a copy; every mutation goes through a transition
method (UpdateModule, UpdateWorker) that applies a closure under the
entity's own lock and writes the result through to the store. There is
no global lock across entities, so a slow transition on one module
never serializes the fleet.

# Identity Rules

Module names are unique among active modules; re-registering an active
name returns ErrDuplicateIdentity. Deregistration is the only removal
path: absence from a poll is a failure, never a deletion.

Worker registration mints a fresh DSN ("dsn:<template>:<uuid>") on
every call. Retired DSNs are never reused; a replacement worker is a
new incarnation with its own record.

# Dependencies and Alerts

Modules declare dependencies at registration; the registry derives the
reverse edges that cascade handling consults via Dependents. RaiseAlert
appends to an append-only log, persists the alert, and publishes it on
the event broker; alerts are never mutated after creation.
*/
package registry
