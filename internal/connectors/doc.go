// Package connectors holds helpers shared by the provider connectors:
// capped content reads, change sequence ordinals, constant-time webhook
// signature checks and listing emitters.
//
// Each provider lives in its own sub-package and is registered with the
// connector factory at startup.
package connectors
