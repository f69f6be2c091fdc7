// Package events provides the in-process pub/sub broker that carries
// coordination events (heartbeats, state transitions, broadcast
// outcomes) to subscribers such as the event stream endpoint.
//
// Subscribers receive on buffered channels; a subscriber that falls
// behind has events dropped rather than blocking the publisher.
package events
