// Package deadletter holds the durable log of failed executions.
//
// Entries are JSON objects pushed to the head of a single named list, so the
// newest failure is always first. Nothing is deduplicated or mutated.
package deadletter

// DefaultKey is the list name shared by producers and inspection tooling.
const DefaultKey = "newsfeeds:dead_letter"
