// Package backend implements the HTTP client for the agent backend's
// conversations and streaming responses API.
package backend
