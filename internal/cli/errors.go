package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/convoetl/internal/blobstore"
	"github.com/roach88/convoetl/internal/config"
	"github.com/roach88/convoetl/internal/ingest"
	"github.com/roach88/convoetl/internal/schedule"
	"github.com/roach88/convoetl/internal/snapshot"
	"github.com/roach88/convoetl/internal/store"
)

// Error codes reported in CLI output.
const (
	ErrCodeGeneric         = "E001" // Generic/unknown error
	ErrCodeConfig          = "E002" // Missing or invalid configuration
	ErrCodeNotFound        = "E003" // No snapshot matches the prefix
	ErrCodeTransientFetch  = "E004" // Network or storage fault
	ErrCodeSchemaViolation = "E005" // Snapshot does not satisfy the contract
	ErrCodeLoad            = "E006" // Load transaction failed and rolled back
	ErrCodeStoreMissing    = "E007" // Store file does not exist
	ErrCodeSchedule        = "E008" // Scheduler registration failed
)

// describe maps err onto a CLI error payload and exit code.
func describe(err error) (CLIError, int) {
	out := CLIError{Code: ErrCodeGeneric, Message: err.Error()}
	// Anything unclassified is a usage or command error.
	code := ExitCommandError

	var stageErr *ingest.StageError
	if errors.As(err, &stageErr) {
		out.Stage = stageErr.Stage
		out.Message = stageErr.Err.Error()
		code = ExitFailure
	}

	var (
		cfgErr  *config.ConfigError
		nfErr   *blobstore.NotFoundError
		sv      *snapshot.SchemaViolation
		loadErr *store.LoadError
		jobErr  *schedule.JobError
		exitErr *ExitError
	)
	switch {
	case errors.As(err, &cfgErr):
		out.Code = ErrCodeConfig
		code = ExitCommandError
	case errors.As(err, &sv):
		out.Code = ErrCodeSchemaViolation
		out.Details = issueList(sv.Issues)
		code = ExitFailure
	case errors.As(err, &loadErr):
		out.Code = ErrCodeLoad
		out.Details = map[string]interface{}{"table": loadErr.Table, "row": loadErr.Row}
		code = ExitFailure
	case errors.As(err, &nfErr):
		out.Code = ErrCodeNotFound
		code = ExitFailure
	case blobstore.IsTransient(err):
		out.Code = ErrCodeTransientFetch
		code = ExitFailure
	case errors.Is(err, store.ErrNotExist):
		out.Code = ErrCodeStoreMissing
		code = ExitCommandError
	case errors.As(err, &jobErr):
		out.Code = ErrCodeSchedule
		out.Details = map[string]interface{}{"job": jobErr.Name, "op": jobErr.Op}
		code = ExitCommandError
	}

	if errors.As(err, &exitErr) {
		code = exitErr.Code
	}
	return out, code
}

// issueList renders schema issues one per line in text output.
type issueList []snapshot.Issue

func (l issueList) String() string {
	var b strings.Builder
	for i, issue := range l {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "  %s: %s", issue.Location(), issue.Message)
	}
	return b.String()
}
