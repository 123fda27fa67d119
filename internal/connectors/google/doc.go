// Package google provides shared infrastructure for Google API connectors:
//   - a TokenSource adapter bridging driven.TokenProvider to oauth2.TokenSource
//   - service construction with an optional endpoint override
//   - mapping of googleapi errors to the domain error taxonomy
//   - proactive rate limiting with backoff after quota errors
//
// The drive connector requests the drive.readonly scope.
package google
