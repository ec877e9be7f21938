package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/anstrom/loadout/internal/store"
)

const (
	timeFormat    = "2006-01-02 15:04"
	maxMatchWidth = 60
)

// RenderText writes the verbose report: a summary table followed by one
// block per finding, described through cat.
func RenderText(w io.Writer, rep *Report, cat Catalogue) error {
	fmt.Fprintf(w, "Results for target: %s\n", rep.Target)
	fmt.Fprintf(w, "Scan %d (%s), run time %s\n", rep.ScanID, rep.Profile, rep.Duration)
	fmt.Fprintf(w, "loadout found %d findings\n\n", len(rep.Entries))

	if len(rep.Entries) == 0 {
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("ID", "Title", "Match")
	for _, e := range rep.Entries {
		title := "unknown"
		if t, ok := cat.Lookup(e.ID); ok {
			title = t.Title
		}
		if err := table.Append([]string{fmt.Sprint(e.ID), title, truncate(e.Match)}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Fprintln(w)

	for _, e := range rep.Entries {
		t, ok := cat.Lookup(e.ID)
		if !ok {
			fmt.Fprintln(w, " !! Unknown finding")
			fmt.Fprintf(w, "ID: %d\n", e.ID)
			fmt.Fprintf(w, "Tool: %s\n", e.Tool)
			fmt.Fprintln(w, "Add a finding template for this id to describe it in reports.")
			fmt.Fprintln(w)
			continue
		}
		fmt.Fprintf(w, " >> %s\n", t.Title)
		fmt.Fprintf(w, "Description: %s\n", t.Description)
		if e.Description != nil {
			fmt.Fprintln(w, *e.Description)
		}
		fmt.Fprintf(w, "Recommendation: %s\n", t.Recommendation)
		fmt.Fprintln(w)
	}
	return nil
}

// RenderJSON writes v as indented JSON.
func RenderJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// RenderScans writes a table of scans, as listed by target search.
func RenderScans(w io.Writer, scans []store.Scan) error {
	if len(scans) == 0 {
		fmt.Fprintln(w, "No scans found")
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("ID", "Target", "Profile", "Mass", "Duration", "Created")
	for i := range scans {
		s := &scans[i]
		mass := "-"
		if s.MassID != nil {
			mass = fmt.Sprint(*s.MassID)
		}
		if err := table.Append([]string{
			fmt.Sprint(s.ID),
			s.Target,
			s.Profile,
			mass,
			s.Duration(),
			s.CreatedAt.Format(timeFormat),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

// RenderMass writes the findings of a mass run grouped by target. Findings
// must be ordered by target.
func RenderMass(w io.Writer, massID int64, findings []store.FindingDetail, cat Catalogue) error {
	fmt.Fprintf(w, "Mass run %d: %d findings\n", massID, len(findings))
	if len(findings) == 0 {
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("Target", "Scan", "ID", "Title", "Match")
	previous := ""
	for i := range findings {
		f := &findings[i]
		target := f.Target
		if target == previous {
			target = ""
		}
		previous = f.Target

		title := "unknown"
		if t, ok := cat.Lookup(f.TemplateID); ok {
			title = t.Title
		}
		if err := table.Append([]string{
			target,
			fmt.Sprint(f.ScanID),
			fmt.Sprint(f.TemplateID),
			title,
			truncate(f.Match),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

// truncate shortens s to one line of at most maxMatchWidth runes.
func truncate(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + "..."
	}
	runes := []rune(s)
	if len(runes) > maxMatchWidth {
		return string(runes[:maxMatchWidth-3]) + "..."
	}
	return s
}
