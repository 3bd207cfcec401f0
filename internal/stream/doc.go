// Package stream reduces a backend response event stream to a single
// outcome.
//
// The Reducer consumes events in arrival order and emits display text
// incrementally through an Output, routing text through the citations
// package and recording every event in a trace. A run ends in exactly one
// of five outcomes: normal completion, OAuth consent required, tool approval
// required, ticket form required, or backend-reported failure. Consent and
// approval end the run early; the remaining events are discarded unread.
package stream
