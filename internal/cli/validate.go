package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/convoetl/internal/snapshot"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	File         string           `json:"file"`
	Contract     string           `json:"contract"`
	Valid        bool             `json:"valid"`
	Sessions     int              `json:"sessions"`
	Events       int              `json:"events"`
	EventParents int              `json:"event_parents"`
	Issues       []snapshot.Issue `json:"issues,omitempty"`
}

func (r ValidationResult) String() string {
	return fmt.Sprintf("%s is valid: %d sessions, %d events, %d event_parents",
		r.File, r.Sessions, r.Events, r.EventParents)
}

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Contract string
}

type localFile string

func (f localFile) Path() string { return string(f) }

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <snapshot-file>",
		Short: "Check a snapshot file against the contract",
		Long: `Check a local snapshot file against the snapshot contract without
touching the store. Every mismatch is reported by table, row and field.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Contract, "contract", "", "CUE contract file (overrides ingest.contract)")

	return cmd
}

func runValidate(opts *ValidateOptions, file string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	contractPath := opts.Contract
	if contractPath == "" {
		contractPath = opts.Config.Ingest.Contract
	}
	contract, err := snapshot.LoadContract(contractPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load contract", err)
	}
	formatter.VerboseLog("Using contract %s (tables: %v)", contract.Name(), contract.Tables())

	v, err := snapshot.Validate(localFile(file), contract)
	if err != nil {
		return err
	}

	sessions, events, edges := v.Snapshot().Len()
	return formatter.Success(ValidationResult{
		File:         file,
		Contract:     contract.Name(),
		Valid:        true,
		Sessions:     sessions,
		Events:       events,
		EventParents: edges,
	})
}
