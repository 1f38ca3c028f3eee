package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"

	"github.com/cuemby/stackup/pkg/events"
	"github.com/cuemby/stackup/pkg/storage"
	"github.com/cuemby/stackup/pkg/types"
)

// printProgress writes one line per notable event until sub is closed
func printProgress(w io.Writer, sub events.Subscriber) {
	for e := range sub {
		switch e.Type {
		case events.EventRunStarted:
			fmt.Fprintf(w, "Provisioning %s (run %s)\n", e.Metadata["project"], e.Message)
		case events.EventTeardownRemoved:
			fmt.Fprintf(w, "  - removed %s %s\n", e.Metadata["kind"], e.Message)
		case events.EventNodeTransition:
			fmt.Fprintf(w, "  %-12s %s → %s\n", e.ServiceID, e.From, e.To)
		case events.EventNodeReady:
			fmt.Fprintf(w, "✓ %s ready\n", e.ServiceID)
		case events.EventNodeFailed:
			fmt.Fprintf(w, "✗ %s failed (%s): %s\n", e.ServiceID, e.Metadata["kind"], e.Message)
		case events.EventTrustWarning:
			fmt.Fprintf(w, "! %s: %s\n", e.ServiceID, e.Message)
		case events.EventPostBootstrap:
			fmt.Fprintf(w, "  post-bootstrap: %s (%s)\n", e.Message, e.Metadata["result"])
		}
	}
}

// printReport writes the run summary
func printReport(w io.Writer, report *types.Report) {
	fmt.Fprintf(w, "Run %s of %s finished in %s\n", report.RunID, report.Project, report.Duration().Round(time.Millisecond))

	nodes := append(append([]types.NodeResult{}, report.Ready...), report.Failed...)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	tw := tabwriter.NewWriter(w, 0, 1, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tSTATE\tREADY IN\tDETAIL")
	for _, n := range nodes {
		readyIn := "-"
		if n.State == types.StateReady && !n.StartedAt.IsZero() {
			readyIn = n.ReadyAt.Sub(n.StartedAt).Round(time.Millisecond).String()
		}
		detail := n.Reason
		if n.FailureKind != "" {
			detail = fmt.Sprintf("%s: %s", n.FailureKind, n.Reason)
		}
		if len(n.Warnings) > 0 {
			detail = strings.TrimSpace(detail + " " + fmt.Sprintf("(%d warnings)", len(n.Warnings)))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", n.ID, n.State, readyIn, detail)
	}
	tw.Flush()

	if len(report.Warnings) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Warnings:")
		for _, warning := range report.Warnings {
			fmt.Fprintf(w, "  ! %s\n", warning)
		}
	}
}

// printStatus writes the recorded run and its instances
func printStatus(w io.Writer, report *types.Report, instances []*storage.InstanceRecord) {
	result := "succeeded"
	if !report.Succeeded() {
		result = fmt.Sprintf("failed (%d of %d services)", len(report.Failed), len(report.Failed)+len(report.Ready))
	}
	fmt.Fprintf(w, "Project:  %s\n", report.Project)
	fmt.Fprintf(w, "Run:      %s\n", report.RunID)
	fmt.Fprintf(w, "Finished: %s (%s)\n", humanize.Time(report.FinishedAt), report.FinishedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Result:   %s\n", result)
	fmt.Fprintln(w)

	sort.Slice(instances, func(i, j int) bool { return instances[i].ID < instances[j].ID })

	tw := tabwriter.NewWriter(w, 0, 1, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tSTATE\tHANDLE\tSINCE\tLAST PROBE")
	for _, inst := range instances {
		since := "-"
		if n := len(inst.Transitions); n > 0 {
			since = humanize.Time(inst.Transitions[n-1].At)
		}
		handle := inst.Handle
		if handle == "" {
			handle = "-"
		}
		probe := "-"
		if inst.LastProbe != nil {
			probe = fmt.Sprintf("%s after %s", inst.LastProbe.Outcome, english.Plural(inst.LastProbe.Attempts, "attempt", ""))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", inst.ID, inst.State, handle, since, probe)
	}
	tw.Flush()

	fmt.Fprintln(w)
	for _, inst := range instances {
		if inst.FailureReason != "" {
			fmt.Fprintf(w, "✗ %s: %s: %s\n", inst.ID, inst.FailureKind, inst.FailureReason)
		}
	}
	for _, warning := range report.Warnings {
		fmt.Fprintf(w, "! %s\n", warning)
	}
}
