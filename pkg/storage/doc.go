/*
Package storage provides BoltDB-backed persistence for the two tables a
running orchestrator needs: sandboxes (one row per live microVM service)
and filesystems (one row per live NFS server). Both are small, frequently
read and rarely-for-long held, so every operation runs inside a single
bbolt transaction — no long-held locks, matching the "single-statement
transactions" requirement on the sandbox DB.

Rows are JSON-encoded values keyed by supervisor pid within their bucket, following
the same upsert-by-Put pattern used throughout the rest of this codebase.
*/
package storage
