// Package reembed regenerates the stored vectors of every chunk in a
// database, for use after switching embedding models.
//
// Chunks are processed in batches with retry and exponential backoff on
// embedding failures, progress reporting, and vector normalization so the
// refreshed vectors stay compatible with cosine similarity search. Chunk
// text and identity are never touched; only vectors change.
package reembed
