// Package gateway exposes the inbound HTTP surface: it decodes channel
// turns, drops platform redeliveries, serializes turns per conversation,
// and streams the orchestrator's responses back as server-sent events.
package gateway
