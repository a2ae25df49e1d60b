package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/runger/focus/internal/client"
	"github.com/runger/focus/internal/command"
	"github.com/runger/focus/internal/now"
	"github.com/runger/focus/internal/workitems"
)

const indent = "     "

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// viewJSON is the --json shape of a view. Results print as themselves.
func viewJSON(w io.Writer, v client.View) error {
	if v.State == client.StateFetchError {
		msg := ""
		if v.Err != nil {
			msg = v.Err.Error()
		}
		return writeJSON(w, map[string]any{
			"status":    string(client.StateFetchError),
			"error":     msg,
			"retryable": v.Retryable,
		})
	}
	return writeJSON(w, v.Result)
}

// showView prints v and returns errReported for a fetch error, so the exit
// code reflects it.
func showView(w io.Writer, v client.View, asJSON bool) error {
	var err error
	if asJSON {
		err = viewJSON(w, v)
	} else {
		renderView(w, v, termWidth(w))
	}
	if err != nil {
		return err
	}
	if v.State == client.StateFetchError {
		return errReported
	}
	return nil
}

func renderView(w io.Writer, v client.View, width int) {
	if v.State == client.StateFetchError {
		renderFetchError(w, v)
		return
	}
	now.Match(v.Result,
		func(r now.ResolvedNow) struct{} { renderResolved(w, r, width); return struct{}{} },
		func(r now.NoClearNow) struct{} { renderNoClear(w, r, width); return struct{}{} },
		func(r now.Deferred) struct{} { renderDeferred(w, r, width); return struct{}{} },
	)
}

func renderFetchError(w io.Writer, v client.View) {
	msg := "unknown error"
	if v.Err != nil {
		msg = v.Err.Error()
	}
	fmt.Fprintln(w, errorStyle.Render("Couldn't get your focus: ")+msg)
	if v.Retryable {
		fmt.Fprintln(w, dimStyle.Render(indent+"Is focusd running? Try again in a moment."))
	} else {
		fmt.Fprintln(w, dimStyle.Render(indent+"The request was rejected; check the arguments."))
	}
}

func kindLabel(c now.Candidate) string {
	if c.Project != "" {
		return fmt.Sprintf("[%s · %s]", c.Kind, c.Project)
	}
	return fmt.Sprintf("[%s]", c.Kind)
}

func percent(f float64) string {
	return fmt.Sprintf("%.0f%%", f*100)
}

// actionHint is the command line that applies a recommended action.
func actionHint(a now.RecommendedAction) string {
	p := a.Payload
	if p.Op == "" || p.RefID == "" {
		return ""
	}
	hint := fmt.Sprintf("focus execute --op %s --ref %s", p.Op, p.RefID)
	if p.Kind != "" {
		hint += " --kind " + string(p.Kind)
	}
	return hint
}

func renderAction(w io.Writer, a now.RecommendedAction) {
	line := "  →  " + actionStyle.Render(a.Label)
	if hint := actionHint(a); hint != "" {
		line += "   " + dimStyle.Render(hint)
	}
	fmt.Fprintln(w, line)
}

func renderResolved(w io.Writer, r now.ResolvedNow, width int) {
	c := r.PrimaryFocus
	title := fitText(c.Title, width-len(indent)-len(kindLabel(c))-2)
	fmt.Fprintf(w, "%s  %s  %s\n", okStyle.Render("NOW"), headingStyle.Render(title), dimStyle.Render(kindLabel(c)))
	fmt.Fprintf(w, "%sconfidence %s  %s\n", indent, percent(r.ConfidenceScore), keyStyle.Render(c.Key))
	for _, reason := range r.SupportingReasons {
		fmt.Fprintf(w, "%s• %s\n", indent, cleanText(reason))
	}
	renderAction(w, r.RecommendedAction)

	if len(r.Futures) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, dimStyle.Render("Up next"))
	for _, f := range r.Futures {
		label := fmt.Sprintf("(%s, %s)", f.Candidate.Key, percent(f.Confidence))
		title := fitText(f.Candidate.Title, width-len(label)-4)
		fmt.Fprintf(w, "  %s  %s\n", title, dimStyle.Render(label))
	}
}

func renderNoClear(w io.Writer, r now.NoClearNow, width int) {
	fmt.Fprintln(w, warnStyle.Render(cleanText(r.Explanation)))
	for i, c := range r.Contenders {
		label := fmt.Sprintf("%s  score %.2f", c.Key, c.Score)
		title := fitText(c.Title, width-len(label)-8)
		fmt.Fprintf(w, "  %d. %s  %s\n", i+1, title, dimStyle.Render(label))
	}
	if r.FallbackAction != nil {
		renderAction(w, *r.FallbackAction)
	}
	if r.Reason == now.ReasonEmpty {
		fmt.Fprintln(w, dimStyle.Render(indent+"focus item add action <id> <title>"))
	}
}

func renderDeferred(w io.Writer, r now.Deferred, width int) {
	until := r.CooldownUntil.Local()
	left := time.Until(until).Round(time.Minute)
	if left < 0 {
		left = 0
	}
	fmt.Fprintf(w, "%s until %s (%s left)\n",
		warnStyle.Render("Deferred"), until.Format("Mon Jan 2 15:04"), left)
	if r.LastKnownFocus != nil {
		fmt.Fprintf(w, "%slast focus: %s\n", indent, fitText(r.LastKnownFocus.Title, width-len(indent)-12))
	}
	fmt.Fprintln(w, dimStyle.Render(indent+"focus wake to pick up now"))
}

func renderOutcome(w io.Writer, cmd command.Command, out command.Outcome) {
	if !out.OK {
		fmt.Fprintf(w, "%s %s: %s\n", errorStyle.Render("Failed"), cmd.Op, out.Error)
		return
	}
	target := out.Key
	if target == "" {
		target = cmd.RefID
	}
	if !out.Changed {
		fmt.Fprintf(w, "%s %s %s (already applied)\n", okStyle.Render("OK"), cmd.Op, keyStyle.Render(target))
		return
	}
	fmt.Fprintf(w, "%s %s %s\n", okStyle.Render("Done"), cmd.Op, keyStyle.Render(target))
}

func renderItems(w io.Writer, recs []workitems.Record, width int) {
	if len(recs) == 0 {
		fmt.Fprintln(w, dimStyle.Render("No work items."))
		return
	}
	for _, rec := range recs {
		key := now.CandidateKey(rec.Kind, rec.Item.ID)
		var meta []string
		if rec.Item.Status != "" {
			meta = append(meta, rec.Item.Status)
		}
		if rec.Item.Priority != "" {
			meta = append(meta, "priority "+string(rec.Item.Priority))
		}
		if rec.Item.DueAt != nil {
			meta = append(meta, "due "+rec.Item.DueAt.Local().Format("Jan 2 15:04"))
		}
		suffix := strings.Join(meta, ", ")
		title := fitText(rec.Item.Title, width-len(key)-len(suffix)-6)
		fmt.Fprintf(w, "%-20s %s  %s\n", keyStyle.Render(key), title, dimStyle.Render(suffix))
	}
}
