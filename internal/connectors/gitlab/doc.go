// Package gitlab implements the connector for one GitLab project over the
// REST API v4, using a PRIVATE-TOKEN. Push hooks are verified by the
// X-Gitlab-Token shared secret.
//
// Source settings: project (path "group/name" or numeric id, required) and
// api_url (default https://gitlab.com/api/v4).
package gitlab
