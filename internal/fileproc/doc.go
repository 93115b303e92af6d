// Package fileproc reads batches of files in parallel under the live
// worker budget. Large files are memory mapped; small files go through
// pooled read buffers.
package fileproc
