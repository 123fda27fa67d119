// Package object stores chunk bodies for the ttl-store retention tier in an
// S3-compatible bucket.
//
// Objects are keyed as <purge-hour>/<tenant>/<content-hash>, where the purge
// hour is the UTC hour the body expires in (layout 20060102T15). The sweep
// deletes whole hour prefixes once they are in the past and checks the
// purge-at user metadata inside the current hour. A bucket lifecycle rule
// catches anything the sweep misses.
package object
