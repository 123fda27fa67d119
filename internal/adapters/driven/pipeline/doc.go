// Package pipeline provides HTTP clients for the downstream content
// services: normalize, chunk, embed and graph-store.
//
// Every client maps a non-2xx response to a *domain.PipelineError naming the
// stage, so callers can tell rejected input (4xx, not retried) from service
// failures (5xx, retried at job level).
package pipeline
