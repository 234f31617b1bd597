package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"xhspilot/internal/account"
	"xhspilot/internal/fault"
	"xhspilot/internal/journal"
	"xhspilot/internal/workflow"
)

var (
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	markerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
)

func exitCodeOf(res *workflow.Result) int {
	return fault.ExitCode(res.Err())
}

// newTable returns a table in the CLI's house style.
func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

func writeJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// truncate shortens s to n runes with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}

// printResult renders a workflow result as JSON or for a terminal.
func printResult(w io.Writer, res *workflow.Result) error {
	if jsonOutput {
		return writeJSON(w, res)
	}
	fmt.Fprintln(w, statusLine(res))
	switch d := res.Data.(type) {
	case *workflow.SearchData:
		if d.Count == 0 {
			return nil
		}
		t := newTable("ID", "Title", "Type", "User", "Likes", "Xsec token")
		for _, f := range d.Feeds {
			t.Row(f.ID, truncate(f.Title, 24), f.Type, truncate(f.User, 12), f.Likes, f.XsecToken)
		}
		fmt.Fprintf(w, "%s\n", dimStyle.Render(fmt.Sprintf("%d notes from %s", d.Count, d.Source)))
		fmt.Fprintln(w, t)
	case *workflow.NotificationsData:
		if d.Count == 0 {
			return nil
		}
		t := newTable("Type", "User", "Content", "Note", "Xsec token")
		for _, m := range d.Mentions {
			t.Row(m.Type, truncate(m.User, 12), truncate(m.Content, 30), m.NoteID, m.XsecToken)
		}
		fmt.Fprintln(w, t)
	case *workflow.ContentData:
		fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("page %d/%d type %d (asked %d/%d type %d), total %v",
			d.ResolvedPageNum, d.ResolvedPageSize, d.ResolvedType,
			d.RequestedPageNum, d.RequestedPageSize, d.RequestedType, d.Total)))
		if len(d.Rows) > 0 {
			fmt.Fprintln(w, contentTable(d.Rows))
		}
		if d.CSVFile != "" {
			fmt.Fprintln(w, "csv: "+d.CSVFile)
		}
	case *workflow.CommentData:
		if !d.Confirmed {
			fmt.Fprintln(w, markerStyle.Render("! comment submitted but NOT confirmed by the comment service;"))
			fmt.Fprintln(w, markerStyle.Render("  check note "+d.FeedID+" before posting again"))
			return nil
		}
		fmt.Fprintf(w, "comment %s on %s\n", d.CommentID, d.FeedID)
	case nil:
	default:
		return writeJSON(w, d)
	}
	return nil
}

func statusLine(res *workflow.Result) string {
	head := res.Workflow
	if res.Account != "" {
		head += " @" + res.Account
	}
	if res.Status == workflow.StatusSuccess {
		glyph := successStyle.Render("✓ ")
		if d, ok := res.Data.(*workflow.CommentData); ok && !d.Confirmed {
			glyph = markerStyle.Render("? ")
		}
		line := glyph + head
		if res.Marker != "" {
			line += " " + markerStyle.Render("["+res.Marker+"]")
		}
		return line
	}
	line := errorStyle.Render("✗ ") + head + " " + errorStyle.Render(string(res.ErrorKind))
	if res.Marker != "" {
		line += " " + markerStyle.Render("["+res.Marker+"]")
	}
	return line + "\n  " + res.Error
}

func contentTable(rows []workflow.ContentRow) *table.Table {
	cols := workflow.ContentColumns[:len(workflow.ContentColumns)-2]
	t := newTable(cols...)
	for _, r := range rows {
		t.Row(truncate(r.Title, 20), r.PostTime, r.Impressions, r.Views, r.CoverCTR, r.Likes,
			r.Comments, r.Favorites, r.NewFollowers, r.Shares, r.AvgWatch, r.Danmaku)
	}
	return t
}

func accountsTable(list []account.Account) *table.Table {
	t := newTable("", "ID", "Alias", "Profile")
	for _, a := range list {
		mark := ""
		if a.IsDefault {
			mark = "*"
		}
		t.Row(mark, a.ID, a.Alias, a.ProfilePath)
	}
	return t
}

func journalTable(entries []journal.Entry) *table.Table {
	t := newTable("ID", "State", "Account", "Title", "Note", "Updated")
	for _, e := range entries {
		t.Row(e.ID[:8], string(e.State), e.Account, truncate(e.Title, 20), e.NoteURL,
			e.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return t
}
