package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
	cuejson "cuelang.org/go/encoding/json"
)

// Staged is a locally staged snapshot document.
type Staged interface {
	Path() string
}

// Issue is a single contract mismatch.
// Row is -1 for table-level issues; Field is empty for row-level ones.
type Issue struct {
	Table   string `json:"table,omitempty"`
	Row     int    `json:"row"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Location renders the issue position as table[row].field.
func (i Issue) Location() string {
	var b strings.Builder
	if i.Table == "" {
		b.WriteString("<document>")
	} else {
		b.WriteString(i.Table)
	}
	if i.Row >= 0 {
		fmt.Fprintf(&b, "[%d]", i.Row)
	}
	if i.Field != "" {
		b.WriteString(".")
		b.WriteString(i.Field)
	}
	return b.String()
}

// SchemaViolation reports a snapshot that does not satisfy its contract.
// Issues are sorted by table (dependency order), row and field.
type SchemaViolation struct {
	Source string
	Issues []Issue
}

func (e *SchemaViolation) Error() string {
	if len(e.Issues) == 0 {
		return fmt.Sprintf("schema violation in %s", e.Source)
	}
	first := e.Issues[0]
	msg := fmt.Sprintf("schema violation in %s: %s: %s", e.Source, first.Location(), first.Message)
	if n := len(e.Issues) - 1; n > 0 {
		msg += fmt.Sprintf(" (and %d more)", n)
	}
	return msg
}

// Validate reads a staged document and checks it against c.
func Validate(staged Staged, c *Contract) (*Validated, error) {
	data, err := os.ReadFile(staged.Path())
	if err != nil {
		return nil, fmt.Errorf("read staged snapshot: %w", err)
	}
	return ValidateBytes(staged.Path(), data, c)
}

// ValidateBytes checks data against c. source is used in error messages.
// Any mismatch is returned as a *SchemaViolation.
func ValidateBytes(source string, data []byte, c *Contract) (*Validated, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, &SchemaViolation{
			Source: source,
			Issues: []Issue{{Row: -1, Message: fmt.Sprintf("not a JSON object: %v", err)}},
		}
	}

	var missing []Issue
	for _, table := range c.tables {
		if _, ok := top[table]; !ok {
			missing = append(missing, Issue{Table: table, Row: -1, Message: "table is missing"})
		}
	}
	if len(missing) > 0 {
		return nil, &SchemaViolation{Source: source, Issues: missing}
	}

	expr, err := cuejson.Extract(source, data)
	if err != nil {
		return nil, &SchemaViolation{
			Source: source,
			Issues: []Issue{{Row: -1, Message: err.Error()}},
		}
	}
	doc := c.ctx.BuildExpr(expr)
	if err := doc.Err(); err != nil {
		return nil, &SchemaViolation{Source: source, Issues: issuesFromCUE(err)}
	}

	unified := c.def.Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, &SchemaViolation{Source: source, Issues: issuesFromCUE(err)}
	}

	snap, err := decode(data)
	if err != nil {
		return nil, &SchemaViolation{
			Source: source,
			Issues: []Issue{{Row: -1, Message: err.Error()}},
		}
	}
	return &Validated{snap: snap, source: source}, nil
}

// issuesFromCUE flattens CUE errors into one Issue per path, sorted.
func issuesFromCUE(err error) []Issue {
	seen := make(map[string]bool)
	var issues []Issue
	for _, e := range cueerrors.Errors(err) {
		issue := issueAt(e.Path())
		format, args := e.Msg()
		issue.Message = fmt.Sprintf(format, args...)

		key := issue.Location()
		if seen[key] {
			continue
		}
		seen[key] = true
		issues = append(issues, issue)
	}
	if len(issues) == 0 {
		issues = append(issues, Issue{Row: -1, Message: err.Error()})
	}

	sort.SliceStable(issues, func(i, j int) bool {
		a, b := issues[i], issues[j]
		if ta, tb := tableRank(a.Table), tableRank(b.Table); ta != tb {
			return ta < tb
		}
		if a.Table != b.Table {
			return a.Table < b.Table
		}
		if a.Row != b.Row {
			return a.Row < b.Row
		}
		if a.Field != b.Field {
			return a.Field < b.Field
		}
		return a.Message < b.Message
	})
	return issues
}

// issueAt maps a CUE path such as [#Snapshot events 3 kind] to an Issue.
func issueAt(path []string) Issue {
	for len(path) > 0 && strings.HasPrefix(path[0], "#") {
		path = path[1:]
	}
	issue := Issue{Row: -1}
	if len(path) == 0 {
		return issue
	}
	issue.Table = path[0]
	if len(path) > 1 {
		if row, err := strconv.Atoi(path[1]); err == nil {
			issue.Row = row
			path = path[2:]
		} else {
			path = path[1:]
		}
	} else {
		path = path[1:]
	}
	issue.Field = strings.Join(path, ".")
	return issue
}

func tableRank(table string) int {
	for i, t := range Tables {
		if t == table {
			return i
		}
	}
	return len(Tables)
}
