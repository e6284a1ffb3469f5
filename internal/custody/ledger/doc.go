// Package ledger implements the append-only chain-of-custody store.
//
// Each evidence item owns an independent hash chain: sequence numbers start at
// 0 with the collection event, every event's PrevHash is the EntryHash of its
// predecessor, and sequence 0 is anchored on hashchain.GenesisHash. A ledger
// where any adjacent pair violates that linkage is considered corrupted; the
// audit package detects and classifies such breaks.
//
// Two implementations of the Ledger interface are provided:
//   - MemoryLedger: in-process, for testing and single-node deployments.
//   - PostgresLedger: durable, for production use.
package ledger
