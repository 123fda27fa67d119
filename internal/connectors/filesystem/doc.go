// Package filesystem implements the connector for a local directory tree.
//
// It needs no credential. Changes are pushed in-process by Watch, built on
// fsnotify; hidden files and directories are never synced.
//
// Source settings: root_path (required, absolute).
package filesystem
