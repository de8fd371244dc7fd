// Package api hosts the read-only HTTP interface over stored search results.
// Routes:
//   - GET /companies lists companies with stored results.
//   - GET /companies/{company}?limit_per_source= aggregates every source.
//   - GET /companies/{company}/sources lists a company's sources.
//   - GET /articles?company=&source= returns one stored result.
//   - GET /healthz, /readyz for health checks and GET /metrics for Prometheus.
package api
