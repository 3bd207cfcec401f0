// Package citations rewrites markdown links in chunked streaming text into
// numbered citation markers, buffering just enough to survive links split
// across chunk boundaries.
package citations
