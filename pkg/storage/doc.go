/*
Package storage persists coordination state in bbolt.

The Store interface covers modules, workers, predicates, broadcast
attempts and the append-only alert log; NewBoltStore opens (or
creates) the database under the data directory and ensures every
bucket exists up front. Values are JSON-encoded and puts are upserts,
so the registry can write through on every transition without
read-modify-write at the storage layer.

Open sync pulses and drift records are deliberately not persisted: a
restarted engine begins a fresh window rather than adjudicating acks
against a window it no longer remembers.
*/
package storage
