// Package connection keeps at most one open handle per dataset file and
// mediates switching a dataset between read-only and read-write access.
//
// Each path moves through the states
//
//	Closed → ReadOnly ⇄ ReadWrite → Closed
//
// under a per-path mutex, so opens of distinct paths run in parallel while
// opens, mode changes and write windows on one path serialize. The map of
// paths is guarded by a short global lock that is never held across I/O.
//
// A Handle owns the state derived from its file: inferred species, synonym
// table, per-cell totals and the search index. Each is computed on first use
// and discarded when the handle closes. Handle accessors return ErrClosed
// once a mode change has replaced the handle; callers fetch a fresh one with
// Cache.Get.
package connection
