// Package reembed regenerates the vectors of every index entry with a new
// embedder, for example after switching embedding models. Entry IDs, text and
// metadata are preserved; only vectors and indexed-at times change.
package reembed
