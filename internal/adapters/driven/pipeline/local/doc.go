// Package local provides in-process normaliser and chunker stages for
// running the pipeline without the remote services. Text is cleaned per
// format (Markdown, HTML, source code, plain text) and split into fixed-size
// overlapping chunks.
package local
