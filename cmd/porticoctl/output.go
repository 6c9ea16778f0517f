package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/pitabwire/portico/internal/mutation"
	"github.com/pitabwire/portico/internal/store"
	"github.com/pitabwire/portico/model"
)

var (
	bold   = color.New(color.Bold).SprintFunc()
	cyan   = color.New(color.FgCyan, color.Bold).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// statusColor picks the colour of a mutation status word.
func statusColor(status string) func(a ...any) string {
	switch status {
	case "succeeded", "ok":
		return green
	case "failed", "error":
		return red
	case "pending", "timed_out", "skipped":
		return yellow
	default:
		return gray
	}
}

func printOutcome(w io.Writer, out *mutation.Outcome) error {
	if jsonOutput {
		return printJSON(w, map[string]any{
			"status":   out.Kind.String(),
			"attempts": out.Attempts,
			"mutation": out.Record,
		})
	}
	status := out.Kind.String()
	fmt.Fprintf(w, "%s %s (%s)\n", statusColor(status)(status), out.Record.ClientMutationLabel, gray(out.Record.ClientMutationID))
	if err := out.Err(); err != nil {
		fmt.Fprintf(w, "  %s\n", red(err.Error()))
	}
	return nil
}

func printRecord(w io.Writer, rec model.MutationRecord) {
	status := rec.Status.String()
	fmt.Fprintf(w, "%s  %-9s %s\n",
		gray(rec.RequestDateTime.Local().Format("2006-01-02 15:04:05")),
		statusColor(status)(status),
		rec.ClientMutationLabel,
	)
	for _, d := range rec.ClientMutationDetails {
		fmt.Fprintf(w, "    %s\n", d)
	}
	if rec.Error != "" {
		fmt.Fprintf(w, "    %s\n", red(rec.Error))
	}
}

// confirm asks on in whether to go ahead with c, unless --yes was given,
// and resolves it in st. declined is true when the answer was no.
func confirm(ctx context.Context, st *store.Store, c *store.Confirmation, in io.Reader, out io.Writer) (result any, declined bool, err error) {
	answer := assumeYes
	if !answer {
		fmt.Fprintf(out, "%s %s [y/N] ", bold(c.Title+":"), c.Message)
		line, _ := bufio.NewReader(in).ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			answer = true
		}
	}
	result, err = st.Confirm(ctx, c.ID, answer)
	var ee *model.ErrorEnvelope
	if errors.As(err, &ee) && ee.Code == model.ErrConfirmationDeclined {
		return nil, true, nil
	}
	return result, false, err
}
