package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"

	core "github.com/3cpo-dev/shardfleet/internal/core"
	prov "github.com/3cpo-dev/shardfleet/internal/providers"
)

var (
	colorGreen = lipgloss.Color("#22c55e")
	colorRed   = lipgloss.Color("#ef4444")
	colorAmber = lipgloss.Color("#f59e0b")
	colorBlue  = lipgloss.Color("#3b82f6")
	colorDim   = lipgloss.Color("#6b7280")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorBlue)
	okStyle    = lipgloss.NewStyle().Bold(true).Foreground(colorGreen)
	warnStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorAmber)
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(colorRed)
	hintStyle  = lipgloss.NewStyle().Foreground(colorAmber)
	dimStyle   = lipgloss.NewStyle().Foreground(colorDim)
)

func renderReadiness(w io.Writer, fleet, rosterPath string, roster core.Roster, rep core.Report) {
	status := warnStyle.Render("NOT ready")
	if roster.Ready {
		status = okStyle.Render("Ready")
	}
	fmt.Fprintf(w, "%s %s: %s (%d/%d running)\n", titleStyle.Render("fleet"), fleet, status, rep.Running, rep.Total)
	for _, a := range roster.Addresses {
		fmt.Fprintf(w, "  %s\n", a)
	}
	for _, id := range rep.Unaddressed {
		fmt.Fprintf(w, "  %s %s is running without a public address\n", warnStyle.Render("!"), id)
	}
	fmt.Fprintln(w, dimStyle.Render("roster written to "+rosterPath))
}

func renderInstances(w io.Writer, records []prov.InstanceRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer func() { _ = tw.Flush() }()
	_, _ = fmt.Fprintln(tw, "ID\tGROUP\tSTATE\tADDRESS")
	for _, r := range records {
		addr := r.Address
		if addr == "" {
			addr = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Group, r.State, addr)
	}
}

func renderWorkItems(w io.Writer, items []core.WorkItem, files []string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer func() { _ = tw.Flush() }()
	_, _ = fmt.Fprintln(tw, "WORKER\tLEFT\tRIGHT\tSIZE\tFILE")
	for i, it := range items {
		_, _ = fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%s\n", i, it.Left, it.Right, it.Size(), files[i])
	}
}

func renderFindings(w io.Writer, findings []prov.Finding) (failed int) {
	for _, f := range findings {
		mark := okStyle.Render("ok  ")
		if !f.OK {
			mark = errorStyle.Render("FAIL")
			failed++
		}
		fmt.Fprintf(w, "%s %s %s\n", mark, f.Subject, dimStyle.Render(f.Detail))
	}
	return failed
}

func renderTermination(w io.Writer, res core.TerminationResult) {
	fmt.Fprintf(w, "%s %d instances of %s\n", okStyle.Render("terminated"), res.Total, res.Fleet)
	for _, g := range res.Groups {
		fmt.Fprintf(w, "  %s %d instances\n", g.Group, len(g.IDs))
	}
}

func renderLaunches(w io.Writer, launches []core.LaunchRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer func() { _ = tw.Flush() }()
	_, _ = fmt.Fprintln(tw, "ID\tWHEN\tFLEET\tMODE\tNODES\tSCRIPT\tLOG")
	for _, l := range launches {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			l.ID, l.LaunchedAt.Local().Format("2006-01-02 15:04:05"), l.Fleet, l.Mode, l.Nodes, l.Script, l.LogPath)
	}
}
