// Package session maps channel conversations to backend agent
// conversations, invalidating the mapping when the channel thread changes so
// stale agent history is never mixed into a new thread.
package session
