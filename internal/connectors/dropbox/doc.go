// Package dropbox implements the connector for one Dropbox account over the
// official SDK.
//
// Dropbox notifications are app-wide and name only the accounts whose files
// changed, so ParseWebhook yields nothing and changes are read from the
// list_folder/continue feed. The cursor of the initial listing is the change
// feed cursor.
//
// Source settings: root_path (default the whole Dropbox), account_id (used
// for webhook lookup before the first Validate) and api_url (test override).
package dropbox
