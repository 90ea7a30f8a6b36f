package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/plugsift/plugsift/pkg/stores"
)

const historyTimeLayout = "2006-01-02 15:04:05"

func newHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [session-id]",
		Short: "Show past sessions from the journal",
		Long: `Show past isolation sessions, newest first.

With a session id, show the trials and verdicts of that session.`,
		Example: `  # List the last 20 sessions
  plugsift history

  # Show one session as JSON
  plugsift history 3f6c... --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				sessions, err := store.ListSessions(ctx, limit, 0)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(out, sessions)
				}
				if len(sessions) == 0 {
					fmt.Fprintln(out, "No sessions recorded.")
					return nil
				}
				fmt.Fprintln(out, sessionTable(sessions))
				return nil
			}

			sess, err := store.GetSession(ctx, args[0])
			if err != nil {
				return fmt.Errorf("session %s: %w", args[0], err)
			}
			trials, err := store.ListTrials(ctx, sess.ID)
			if err != nil {
				return err
			}
			verdicts, err := store.ListVerdicts(ctx, sess.ID, nil)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(out, map[string]interface{}{
					"session":  sess,
					"trials":   trials,
					"verdicts": verdicts,
				})
			}

			fmt.Fprintln(out, sessionTable([]*stores.Session{sess}))
			fmt.Fprintln(out, trialTable(trials))
			for _, kind := range []string{"failed", "reverified"} {
				var names []string
				for _, v := range verdicts {
					if v.Kind == kind {
						names = append(names, v.Plugin)
					}
				}
				if len(names) > 0 {
					fmt.Fprintf(out, "%s: %s\n", kind, strings.Join(names, ", "))
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of sessions to list")

	return cmd
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func sessionTable(sessions []*stores.Session) string {
	t := newTable("SESSION", "STARTED", "STATUS", "CANDIDATES", "SAFE", "FAILED", "TRIALS", "DURATION")
	for _, s := range sessions {
		duration := "-"
		if s.FinishedAt != nil {
			duration = s.FinishedAt.Sub(s.StartedAt).Round(time.Second).String()
		}
		t.Row(
			s.ID,
			s.StartedAt.Local().Format(historyTimeLayout),
			string(s.Status),
			strconv.Itoa(s.Candidates),
			strconv.Itoa(s.Safe),
			strconv.Itoa(s.Failed),
			strconv.Itoa(s.Trials),
			duration,
		)
	}
	return t.Render()
}

func trialTable(trials []*stores.Trial) string {
	t := newTable("#", "KIND", "SIZE", "ATTEMPT", "OUTCOME", "DURATION")
	for _, tr := range trials {
		t.Row(
			strconv.Itoa(tr.Seq),
			tr.Kind,
			strconv.Itoa(len(tr.Batch)),
			strconv.Itoa(tr.Attempt),
			tr.Outcome,
			tr.Duration.Round(100*time.Millisecond).String(),
		)
	}
	return t.Render()
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
}
