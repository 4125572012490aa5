// Package reembed recomputes the embeddings of stored document chunks.
//
// Run it after switching embedding models, or with OnlyMissing to finish
// chunks whose embedding failed during ingestion. Chunks are read in ID
// order and batches are retried with exponential backoff. Progress is saved
// as a checkpoint after every batch so an interrupted run can resume where
// it stopped.
package reembed
