// Package ingest runs the snapshot ingestion pipeline.
//
// A run initializes the store, then executes four stages in order:
//
//	locate   newest snapshot under the configured prefix
//	fetch    download it into a staging file, retrying transient faults
//	validate check the staged document against the contract
//	load     insert all rows in one transaction
//
// Each stage gates the next. The first failure ends the run with a
// *StageError naming the stage; nothing is written to the store unless the
// load stage commits. The staging file and the store connection are released
// on every exit path.
package ingest
