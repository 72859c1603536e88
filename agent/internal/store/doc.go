// Package store holds the latest probe outcome of every target in memory.
//
// The set of targets is fixed when the Store is built. Each target owns a
// slot whose entry is replaced wholesale on every Update, so scrapes reading
// through Snapshot never see a half-applied result. The scheduler is the
// only writer; the HTTP layer only reads.
//
// Nothing is persisted and entries never expire. A target that keeps failing
// simply shows an ageing LastSuccessAt.
package store
