// Package webhook serves the provider webhook receivers over HTTP.
//
// Routes:
//   - POST /webhooks/:provider  provider notifications
//   - GET  /webhooks/dropbox    Dropbox endpoint verification challenge
//   - GET  /healthz             liveness
package webhook
