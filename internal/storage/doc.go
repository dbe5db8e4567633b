// Package storage owns the on-disk representation of observations.
//
// It provides:
//   - CSVLog: the append-only, fsynced CSV log (the primary record)
//   - Mirror: an optional secondary copy of every row (SQLite)
package storage
