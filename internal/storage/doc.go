// Package storage persists what must survive a process: the delivery ledger
// that keeps re-runs from messaging a recipient twice, and a history of
// finished runs.
package storage
