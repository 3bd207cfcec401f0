// Package trace records an append-only event log for one backend
// invocation, summarized into a snapshot the debug card renders.
package trace
