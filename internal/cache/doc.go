// Package cache provides LRU caching for decoded dataset rows.
//
// Dataset handles decode gene expression rows out of the mapped matrix into
// float32 slices; the cache keeps the encoded bytes of recently used rows so
// repeated colour requests for the same gene skip the decode.
//
// Keys carry the dataset path and the handle generation, so a reopen (for
// example after a read-write window) never serves rows from the old file.
//
// ShardedLRUBlockCache spreads keys over 64 shards, each with its own mutex,
// and reports memory to an optional resource.Controller.
package cache
