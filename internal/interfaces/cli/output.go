package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/width"

	"github.com/turtacn/plankton-batchedit/pkg/client"
)

// displayWidth counts terminal columns: wide and fullwidth runes take two.
func displayWidth(s string) int {
	n := 0
	for _, r := range s {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			n += 2
		default:
			n++
		}
	}
	return n
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// sessionOutput renders a session preview.
type sessionOutput struct {
	*client.Session
}

var severityMarks = map[string]string{
	client.SeverityNormal: "-",
	client.SeverityWarn:   "!",
	client.SeverityError:  "x",
}

func (s sessionOutput) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "session %s  dataset %s  mode %s", s.SessionID, s.DatasetID, s.UsedMode)
	if s.UsedMode != s.Mode && s.Mode != "" {
		fmt.Fprintf(&sb, " (requested %s)", s.Mode)
	}
	sb.WriteString("\n")
	if len(s.Preview) > 0 {
		sb.WriteString("preview:\n")
		for _, l := range s.Preview {
			mark, ok := severityMarks[l.Severity]
			if !ok {
				mark = "-"
			}
			fmt.Fprintf(&sb, "  %s %s\n", mark, l.Text)
		}
	}
	if len(s.Pending) > 0 {
		sb.WriteString("pending:\n")
		for _, p := range s.Pending {
			fmt.Fprintf(&sb, "  - %s (%s)\n", p.Text, p.Reason)
		}
	}
	if len(s.Corrections) > 0 {
		sb.WriteString("corrections:\n")
		for _, c := range s.Corrections {
			fmt.Fprintf(&sb, "  ? %s %s -> %s%s\n", c.Kind, c.Raw, c.Suggestion, scoreSuffix(c.Score))
		}
	}
	if len(s.PendingDeleteNames) > 0 {
		fmt.Fprintf(&sb, "deletes species: %s\n", strings.Join(s.PendingDeleteNames, ", "))
	}
	fmt.Fprintf(&sb, "can apply: %s\n", yesNo(s.CanApply))
	return sb.String()
}

func scoreSuffix(score *float64) string {
	if score == nil {
		return ""
	}
	return fmt.Sprintf(" (%.2f)", *score)
}

func (s sessionOutput) TableHeaders() []string {
	return []string{"KIND", "TEXT", "DETAIL"}
}

func (s sessionOutput) TableRows() [][]string {
	rows := make([][]string, 0, len(s.Preview)+len(s.Pending)+len(s.Corrections))
	for _, l := range s.Preview {
		rows = append(rows, []string{l.Severity, l.Text, ""})
	}
	for _, p := range s.Pending {
		rows = append(rows, []string{"pending", p.Text, p.Reason})
	}
	for _, c := range s.Corrections {
		rows = append(rows, []string{"correction", c.Raw + " -> " + c.Suggestion, c.Reason})
	}
	return rows
}

// applyOutput renders a commit result.
type applyOutput struct {
	*client.ApplyResult
}

func (a applyOutput) String() string {
	var sb strings.Builder
	if a.Message != "" {
		sb.WriteString(a.Message + "\n")
	}
	fmt.Fprintf(&sb, "applied %d action(s) to %s", a.Applied, a.DatasetID)
	if a.MergedCount > 0 {
		fmt.Fprintf(&sb, ", merged %d duplicate species", a.MergedCount)
	}
	sb.WriteString("\n")
	if a.SnapshotKey != "" {
		fmt.Fprintf(&sb, "snapshot: %s\n", a.SnapshotKey)
	}
	for _, e := range a.Errors {
		fmt.Fprintf(&sb, "  x %s\n", e)
	}
	for _, e := range a.WriteBackErrors {
		fmt.Fprintf(&sb, "  ! %s\n", e)
	}
	return sb.String()
}

// datasetListOutput renders one page of summaries.
type datasetListOutput struct {
	*client.DatasetList
}

func (l datasetListOutput) TableHeaders() []string {
	return []string{"ID", "TITLE", "POINTS", "SPECIES", "READ-ONLY", "UPDATED"}
}

func (l datasetListOutput) TableRows() [][]string {
	rows := make([][]string, 0, len(l.Items))
	for _, s := range l.Items {
		rows = append(rows, []string{
			s.ID, s.TitlePrefix,
			strconv.Itoa(s.PointsCount), strconv.Itoa(s.SpeciesCount),
			yesNo(s.ReadOnly), formatTime(s.UpdatedAt),
		})
	}
	return rows
}

func (l datasetListOutput) String() string {
	return FormatTable(l.TableHeaders(), l.TableRows()) +
		fmt.Sprintf("page %d, %d of %d dataset(s)\n", l.Page, len(l.Items), l.Total)
}

// datasetOutput renders the count matrix of one dataset.
type datasetOutput struct {
	*client.Dataset
}

func (d datasetOutput) TableHeaders() []string {
	h := []string{"SPECIES", "LATIN"}
	for _, p := range d.Points {
		h = append(h, p.Label)
	}
	return h
}

func (d datasetOutput) TableRows() [][]string {
	rows := make([][]string, 0, len(d.Species))
	for _, s := range d.Species {
		row := []string{s.NameCn, s.NameLatin}
		for _, p := range d.Points {
			row = append(row, strconv.Itoa(s.CountsByPointID[p.ID]))
		}
		rows = append(rows, row)
	}
	return rows
}

func (d datasetOutput) String() string {
	title := d.TitlePrefix
	if d.ReadOnly {
		title += " [read-only]"
	}
	return fmt.Sprintf("%s (%s)\n", title, d.ID) + FormatTable(d.TableHeaders(), d.TableRows())
}

func strconvFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
