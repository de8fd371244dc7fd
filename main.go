// Command newsfeeds fetches company news per source and serves it.
//
// Architecture overview:
//   - Enqueue: the enqueue and schedule commands validate (company, source) pairs and submit one task per pair
//     to the configured broker (Redis list, Pub/Sub, Kafka, or in-process for development). Submission returns a
//     task id without waiting for execution.
//   - Workers: the worker command consumes tasks on a bounded pool. Each task calls the search API once, stamps
//     defaults on the response and writes it to object storage at "<company>/<source>.json", overwriting the
//     previous record. Provider and storage failures are appended to the dead-letter list and handed back to the
//     broker, which redelivers with exponential backoff until queue.retry.max_attempts is reached.
//   - Read API: the serve command lists companies and sources from storage, aggregates per-company results with a
//     per-source article limit, and exposes /healthz, /readyz and /metrics.
//   - Catalog: seed loads companies and sources into Postgres; schedule reads them back every scheduler.interval.
//
// Quick checklist:
//   - Configure with a file (--config) and NEWSFEEDS_* environment variables, e.g. NEWSFEEDS_QUEUE_BACKEND=redis,
//     NEWSFEEDS_STORAGE_S3_ENDPOINT=http://localhost:9000. A .env file in the working directory is loaded first.
//   - Run locally: newsfeeds search-stub, newsfeeds init-bucket, newsfeeds worker, then
//     newsfeeds enqueue "Acme Corp:Reuters" and newsfeeds serve.
package main

import (
	"github.com/JakeFAU/newsfeeds/cmd"
)

func main() {
	cmd.Execute()
}
