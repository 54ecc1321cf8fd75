// Package explain accumulates and renders the query execution report
// of spec.md §6 ("Testable properties... surfaced via explain()"):
// n, nscanned, nscannedObjects, nYields, nChunkSkips, indexBounds,
// isMultiKey, scanAndOrder, indexOnly. Render prints every one of these
// except indexBounds, which is held but not rendered. Grounded on the markdown-table
// rendering style of datalog/executor/table_formatter.go and the
// colorized event formatting of datalog/annotations/output.go, neither
// of which this package needs the datalog dependency for -- only the
// third-party rendering libraries they wire in.
package explain

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/wbrown/querycore/core/plan"
	"github.com/wbrown/querycore/core/query"
)

// Report is the accumulated explain() output for one query execution.
type Report struct {
	Namespace string
	PlanKind  string // "optimal", "in-order", "out-of-order", "table-scan", "racing", ...

	N               int64
	NScanned        int64
	NScannedObjects int64
	NYields         int64
	NChunkSkips     int64

	IndexName   string
	IndexBounds []query.Interval
	IsMultiKey  bool

	ScanAndOrder bool
	IndexOnly    bool

	CacheHit bool
}

// NewFromCandidate seeds a Report's static (plan-shape) fields from a
// chosen plan.Candidate, leaving the dynamic counters at zero for the
// caller to accumulate as the query executes.
func NewFromCandidate(ns string, c plan.Candidate) *Report {
	r := &Report{
		Namespace:    ns,
		PlanKind:     c.Classification.String(),
		IndexName:    c.Index.Name,
		ScanAndOrder: c.ScanAndOrderRequired,
		IndexOnly:    c.IndexOnly,
	}
	return r
}

// RecordMatch increments the match (N) and scanned-object counters for
// one returned document.
func (r *Report) RecordMatch() {
	r.N++
	r.NScannedObjects++
}

// RecordScan increments NScanned for one storage step that did not
// produce a returned document (filtered out by the matcher or a
// duplicate).
func (r *Report) RecordScan() { r.NScanned++ }

// RecordYield increments NYields for one suspend/resume cycle.
func (r *Report) RecordYield() { r.NYields++ }

// RecordChunkSkip increments NChunkSkips for one capped-extent or
// deleted-record region skipped without inspection.
func (r *Report) RecordChunkSkip() { r.NChunkSkips++ }

// Render formats the report as a two-column markdown table, in the
// style of table_formatter.go's FormatRelation, using color to
// highlight whether the plan required an in-memory sort.
func (r *Report) Render() string {
	var sb strings.Builder
	table := tablewriter.NewTable(&sb,
		tablewriter.WithRenderer(renderer.NewMarkdown()),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)
	table.Header([]string{"field", "value"})

	rows := [][2]string{
		{"namespace", r.Namespace},
		{"plan", r.PlanKind},
		{"index", r.indexLabel()},
		{"n", fmt.Sprintf("%d", r.N)},
		{"nscanned", fmt.Sprintf("%d", r.NScanned+r.NScannedObjects)},
		{"nscannedObjects", fmt.Sprintf("%d", r.NScannedObjects)},
		{"nyields", fmt.Sprintf("%d", r.NYields)},
		{"nChunkSkips", fmt.Sprintf("%d", r.NChunkSkips)},
		{"isMultiKey", fmt.Sprintf("%t", r.IsMultiKey)},
		{"indexOnly", fmt.Sprintf("%t", r.IndexOnly)},
		{"scanAndOrder", r.colorizeBool(r.ScanAndOrder)},
		{"cacheHit", fmt.Sprintf("%t", r.CacheHit)},
	}
	for _, row := range rows {
		table.Append([]string{row[0], row[1]})
	}
	table.Render()
	return sb.String()
}

func (r *Report) indexLabel() string {
	if r.IndexName == "" {
		return "(table scan)"
	}
	return r.IndexName
}

// colorizeBool renders a scanAndOrder=true flag in yellow, since it
// marks an in-memory sort the caller likely didn't want.
func (r *Report) colorizeBool(b bool) string {
	s := fmt.Sprintf("%t", b)
	if b {
		return color.YellowString(s)
	}
	return s
}
