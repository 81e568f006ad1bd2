// Package session keeps the server's session record: the TTL-bounded set of
// known sessions, the permanent sessions that never expire and the small set
// of active sessions used for admission control.
//
// The record is persisted as plain tab-separated files so that existing
// installations keep their sessions:
//
//	UUID_Timeouts.tsv          id<TAB>last_seen_epoch_seconds
//	Permanent_Session_IDs.txt  id<TAB>mode        (rw or ro)
//	ORCID_IDs.txt              orcid<TAB>id,id<TAB>display name
//	UUID_Log_<date>.txt        audit lines, append-only
//
// Expiry is lazy. Every Resolve sweeps expired sessions and removes their
// private directories; no background goroutine is involved.
package session
