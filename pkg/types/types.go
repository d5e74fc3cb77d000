// Package types provides the shared data model for esquery.
// These types flow between the accumulator, the compiler and the executor
// and are designed for external consumption.
package types

// Row is a single document as returned by a read: the stored source fields.
type Row = map[string]any
