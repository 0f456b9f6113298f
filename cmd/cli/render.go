package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"arduinohub/internal/guide"
	"arduinohub/pkg/models"
)

func printComponents(w io.Writer, comps []models.DetectedComponent) {
	if len(comps) == 0 {
		fmt.Fprintln(w, "(no components)")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tQTY")
	for _, c := range comps {
		fmt.Fprintf(tw, "%d\t%s\t%d\n", c.ID, c.Name, c.Quantity)
	}
	tw.Flush()
}

func printTasks(w io.Writer, tasks []models.TaskState) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SECTION\tSTATUS\tPROGRESS\tNOTE")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%d%%\t%s\n", t.Section, t.Status, t.Progress, t.Error)
	}
	tw.Flush()
}

func printSession(w io.Writer, v models.SessionView) {
	fmt.Fprintf(w, "session:     %s\n", v.ID)
	fmt.Fprintf(w, "created:     %s\n", v.CreatedAt.Local().Format("2006-01-02 15:04"))
	fmt.Fprintf(w, "image:       %t\n", v.ImageReceived)
	fmt.Fprintf(w, "confirmed:   %t\n", v.Confirmed)
	fmt.Fprintf(w, "description: %s\n\n", v.Description)
	printComponents(w, v.Components)
	fmt.Fprintln(w)
	printTasks(w, v.Tasks)
}

// printResults writes every settled section, or only filter when it is set.
func printResults(w io.Writer, res models.Results, filter models.Section) {
	for _, t := range res.Tasks {
		if filter != "" && t.Section != filter {
			continue
		}
		fmt.Fprintf(w, "== %s (%s) ==\n", strings.ToUpper(string(t.Section)), t.Status)
		switch {
		case t.Status == models.StatusFailed:
			fmt.Fprintln(w, t.Error)
		case t.Status != models.StatusSucceeded:
			fmt.Fprintf(w, "%d%%\n", t.Progress)
		case t.Section == models.SectionGuide && res.Guide != nil:
			printGuide(w, *res.Guide)
		default:
			fmt.Fprintln(w, strings.TrimSpace(t.Content))
		}
		fmt.Fprintln(w)
	}
}

func printGuide(w io.Writer, g models.ParsedGuide) {
	if len(g.Rows) > 0 {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "COMPONENT\tPIN CONNECTIONS\tNOTES")
		for _, r := range g.Rows {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Component, r.PinConnection, r.Notes)
		}
		tw.Flush()
	}
	if g.RemainingText != "" {
		if len(g.Rows) > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, g.RemainingText)
	}
}

func printProjects(w io.Writer, total int, items []models.Project) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tCOMPONENTS\tDESCRIPTION")
	for _, p := range items {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", p.ID, p.CreatedAt.Local().Format("2006-01-02 15:04"), len(p.Components), truncate(p.Description, 48))
	}
	tw.Flush()
	fmt.Fprintf(w, "%d of %d projects\n", len(items), total)
}

func printProject(w io.Writer, p models.Project) {
	fmt.Fprintf(w, "project:     %s\n", p.ID)
	fmt.Fprintf(w, "created:     %s\n", p.CreatedAt.Local().Format("2006-01-02 15:04"))
	fmt.Fprintf(w, "description: %s\n\n", p.Description)
	printComponents(w, p.Components)

	sections := []struct {
		name, body string
	}{
		{"CODE", p.Code},
		{"PRINCIPLES", p.Principles},
	}
	for _, s := range sections {
		if s.body == "" {
			continue
		}
		fmt.Fprintf(w, "\n== %s ==\n%s\n", s.name, strings.TrimSpace(s.body))
	}
	if p.Guide != "" {
		fmt.Fprintln(w, "\n== GUIDE ==")
		printGuide(w, guide.Parse(p.Guide))
	}
}

func truncate(s string, n int) string {
	r := []rune(strings.ReplaceAll(s, "\n", " "))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}
