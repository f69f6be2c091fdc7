// Package api exposes the engine's control surface over HTTP JSON.
//
// The surface covers module registration and lifecycle operations, the
// heartbeat and sync-ack paths modules call back into, predicate
// broadcast with explicit retry, worker registration and sunset, the
// append-only alert log, and a line-JSON event stream. Engine error
// taxonomy maps onto status codes: duplicate identity and stale acks
// are conflicts, unknown entities are 404s, exhausted broadcast budget
// is 429/202 depending on whether the queue absorbed the request.
package api
