// Package dedupe drops redelivered channel messages using a TTL cache so
// each inbound turn is processed at most once.
package dedupe
