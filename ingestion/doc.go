// Package ingestion turns marking-scheme files into vector index entries.
//
// The Pipeline type runs the offline ingestion workflow:
//   - Loading text from PDF, DOCX, plain text and Markdown files
//   - Splitting text into overlapping chunks (500 characters, 50 overlap by default)
//   - Tagging every chunk with the document's subject
//   - Generating embeddings in batches, with retries
//   - Upserting entries under stable IDs and pruning stale chunks
//
// Documents are processed concurrently using a worker pool. A failure affects
// only the document (or embedding batch) where it happened; the run reports
// every outcome in a Report.
package ingestion
