// Package mmap gives dataset files their two ways of being open: a shared
// read-only Mapping for readers and an exclusive Lock for the single
// read-write window.
//
// Readers map the whole file and parse sections in place:
//
//	m, err := mmap.Open("my-looms/pbmc.loom", mmap.AccessRandom)
//	if err != nil { ... }
//	defer m.Close()
//	data := m.Bytes() // nil after Close
//
// A writer locks the file, reads it into memory and rewrites it on close:
//
//	lk, err := mmap.LockFile("my-looms/pbmc.loom") // ErrLocked when taken
//	if err != nil { ... }
//	defer lk.Release()
//	data, err := io.ReadAll(lk.File())
//
// Unix uses mmap(2), madvise(2) and flock(2). Windows uses MapViewOfFile and
// LockFileEx and ignores access hints.
//
// A Mapping may be read concurrently. Close does not wait for readers; the
// dataset layer serialises Close against reads with its own RWMutex.
package mmap
