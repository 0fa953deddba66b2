// Package stores provides persistence for synthesized algorithm
// artifacts and init-run history.
//
// Synthesizing a collective algorithm for a machine archetype is
// expensive. The artifact cache keys finished artifacts by
// (archetype, world size, collective) so that repeated jobs on the
// same hardware skip synthesis entirely. The run table records each
// init attempt for later inspection with the CLI.
//
// The only implementation is SQLiteStore, backed by modernc.org/sqlite
// with schema migrations embedded in the binary.
package stores
