package snapshot

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed contract.cue
var builtinContract []byte

// definitionPath is the CUE definition every contract must expose.
const definitionPath = "#Snapshot"

// Contract is a compiled structural contract.
//
// A Contract owns its CUE context and is not safe for concurrent use;
// callers that validate in parallel should load one Contract per goroutine.
type Contract struct {
	name   string
	ctx    *cue.Context
	def    cue.Value
	tables []string
}

// DefaultContract compiles the embedded contract.
func DefaultContract() (*Contract, error) {
	return ParseContract("builtin contract.cue", builtinContract)
}

// LoadContract reads and compiles a contract from path.
// An empty path selects the embedded contract.
func LoadContract(path string) (*Contract, error) {
	if path == "" {
		return DefaultContract()
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read contract: %w", err)
	}
	return ParseContract(path, src)
}

// ParseContract compiles CUE source into a Contract. The source must define
// #Snapshot; its required fields are the tables a snapshot must contain.
func ParseContract(name string, src []byte) (*Contract, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(name))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile contract %s: %w", name, err)
	}

	def := v.LookupPath(cue.ParsePath(definitionPath))
	if !def.Exists() {
		return nil, fmt.Errorf("contract %s: %s is not defined", name, definitionPath)
	}
	if err := def.Err(); err != nil {
		return nil, fmt.Errorf("contract %s: %w", name, err)
	}

	iter, err := def.Fields()
	if err != nil {
		return nil, fmt.Errorf("contract %s: iterating %s: %w", name, definitionPath, err)
	}
	var tables []string
	for iter.Next() {
		tables = append(tables, iter.Selector().String())
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("contract %s: %s declares no tables", name, definitionPath)
	}

	return &Contract{name: name, ctx: ctx, def: def, tables: tables}, nil
}

// Name identifies where the contract was loaded from.
func (c *Contract) Name() string {
	return c.name
}

// Tables returns the tables a snapshot must contain, in declaration order.
func (c *Contract) Tables() []string {
	out := make([]string, len(c.tables))
	copy(out, c.tables)
	return out
}
