// Package postgres provides PostgreSQL implementations of the job queue and
// the full-persistence chunk body store, for deployments where several
// sercha-sync processes share work.
//
// Tables are created on first use with CREATE TABLE IF NOT EXISTS, so no
// separate migration step is needed. Every statement runs with a bounded
// timeout.
package postgres
