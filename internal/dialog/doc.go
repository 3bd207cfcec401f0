// Package dialog orchestrates one conversation turn end to end.
//
// # Overview
//
// The Orchestrator sits between the gateway's inbound turn dispatch and the
// backend client. For each turn it decides whether the turn is a
// side-effecting command, a resume of a suspended invocation (OAuth consent,
// tool approval, or ticket form), or a fresh message, builds the matching
// backend invocation, and delegates stream consumption to the stream
// package's reducer.
//
// # Suspensions
//
// A suspension ends the current turn: the orchestrator sends a card whose
// buttons carry the full resumption payload, and the conversation waits —
// possibly for days — until the user presses one. The payload, not server
// state, is what reconstructs the suspended step; the orchestrator itself
// holds no per-turn state between turns.
//
// Resumption semantics differ per kind: an auth resume re-invokes the
// original query on the same conversation, an approval resume sends only the
// approval-response item continuing from the raising response, and a ticket
// form resume synthesizes a directive input carrying the user's exact field
// values.
//
// # Concurrency
//
// Callers must serialize turns within one channel conversation; the gateway
// does this with a per-conversation lock. Turns for different conversations
// may run concurrently.
package dialog
