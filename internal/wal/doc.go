// Package wal implements the redo log of the page store.
//
// Every atomic multi-page update is appended as one PageImages record
// holding the full images of the pages it touched. Recovery replays the
// records in order, so a unit is either fully visible or absent after a
// crash: a torn or checksum-failing tail record ends the replay.
//
// Record layout:
//
//	[CRC32C 4][Type 1][Flags 1][LSN 8][Len 4][payload Len]
//
// Payloads larger than a threshold are zstd compressed. LSNs are assigned
// by the log and grow monotonically across truncations: a Checkpoint record
// carrying the last LSN starts every truncated log.
//
// In DurabilitySync mode a background syncer batches fsyncs (group commit)
// and Append waits for its record to be durable.
package wal
