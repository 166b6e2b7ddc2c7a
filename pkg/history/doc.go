// Package history persists agent conversation threads as JSONL files, one
// file per thread id.
//
// Appends to the same thread are serialized; different threads never
// contend. Corrupt lines are skipped on load so a torn write loses at most
// one message.
package history
