// Package snapshot defines the snapshot wire format and its structural contract.
//
// A snapshot is a single JSON document whose top level maps a table name to an
// ordered list of row objects:
//
//	{
//	  "sessions":      [{"id": "...", "start_ts": "...", "metadata": "..."}],
//	  "events":        [{"id": "...", "ts": "...", "session_id": "...", ...}],
//	  "event_parents": [{"child_id": "...", "parent_id": "..."}]
//	}
//
// Field names match the persisted store columns. Blob columns (metadata,
// payload, metrics) are opaque strings and are never parsed here.
//
// # Contract
//
// The structural contract is a CUE document exposing a #Snapshot definition.
// Validate unifies the staged document with #Snapshot and reports every
// mismatch as an Issue naming the table, row and field. A built-in contract
// is embedded; LoadContract reads a replacement from disk so the set of event
// kinds can be extended without a rebuild.
//
// Validation is pure: it never touches the store and gives the same result
// for the same document and contract. Only Validate produces a *Validated,
// which is what the store's Load accepts, so an unvalidated snapshot cannot
// reach the loader.
package snapshot
