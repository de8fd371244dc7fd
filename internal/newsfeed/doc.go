// Package newsfeed defines the domain types, interfaces, and error taxonomy
// shared by the ingestion pipeline (dispatcher, worker, brokers), the object
// store, and the aggregation read path.
package newsfeed
