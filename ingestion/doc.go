// Package ingestion uploads documents and indexes them in the background.
//
// Uploads are idempotent per (owner, content hash): the same bytes
// uploaded twice return the same document, even while the first indexing
// job is still in flight. Chunks become retrievable only after the full
// batch is committed and the document flips to indexed.
package ingestion
