// Package github implements the connector for one GitHub repository.
//
// Files are listed from the git tree of the configured branch in a single
// recursive call, and fetched through the contents API. Push webhooks are
// verified with the repository hook secret (X-Hub-Signature-256) and turned
// into ordered file changes. The compare API serves as the change feed
// between the stored commit cursor and the branch head.
//
// # Configuration
//
// Source settings:
//
//   - repository: "owner/name", required.
//   - api_url: GitHub Enterprise API base URL. Default: api.github.com.
//
// The branch comes from SourceConfig.Branch and defaults to the
// repository's default branch.
//
// # Rate Limiting
//
// A token bucket throttles requests proactively, and X-RateLimit headers
// from every response drive a reactive wait when the remaining quota runs
// low. An exhausted quota surfaces as domain.RateLimitError so the job is
// deferred until the reset time.
package github
