// Package broadcast fans approved predicates out to the worker fleet.
//
// Delivery policy, in order:
//
//  1. Dedup: a predicate ID already broadcast returns the prior
//     attempt record unchanged. Identity is the UUID; retries increment
//     the attempt, never creating a new one.
//  2. Rate limit: a token bucket caps the broadcast budget. With the
//     bucket empty the predicate joins a bounded FIFO queue and is
//     served in arrival order as tokens replenish. Queued is not
//     dropped; only a full queue rejects.
//  3. Fan-out: parallel dispatch to every Active worker, each under an
//     independent short timeout. A slow worker never blocks the rest.
//  4. Acks: collected asynchronously within a bounded window; workers
//     that never ack stay visible on the attempt for observability,
//     feed the drift detector as missed-ack signals, and are only
//     re-dispatched by an explicit retry.
package broadcast
