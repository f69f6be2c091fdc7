// Package client holds the engine's outbound HTTP paths.
//
// Dispatcher carries fleet traffic: sync pulses to module sync
// endpoints, restart requests to module runtimes, and predicates to
// workers. Client is the control-plane side, wrapping the engine's JSON
// API for the CLI.
package client
