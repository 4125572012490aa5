// Package ingestion loads documents into the retrieval corpus.
//
// The Pipeline type manages the ingestion workflow for documents, including:
//   - Splitting documents into overlapping chunks
//   - Storing chunks in the document repository
//   - Generating chunk embeddings asynchronously
//
// Embedding is performed concurrently on a worker pool. Wait blocks until
// every submitted batch has been processed and reports the batches that
// failed; chunks of a failed batch stay stored without a vector.
package ingestion
