// Package bitbucket implements the connector for one Bitbucket Cloud
// repository over the 2.0 REST API.
//
// Push payloads carry commits but no file lists, so ParseWebhook yields no
// changes and the orchestrator reads them from the diffstat change feed.
//
// Source settings: repository ("workspace/slug", required), api_url
// (default https://api.bitbucket.org/2.0) and username, which switches from
// bearer auth to basic auth with the token as app password.
package bitbucket
