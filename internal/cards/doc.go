// Package cards defines the channel-agnostic card model the dialog
// presents: consent, approval, ticket form, disclaimer, and debug cards,
// plus the action payloads their buttons post back.
package cards
