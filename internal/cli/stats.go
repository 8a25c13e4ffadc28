package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cascade-app/cascade/internal/daemon"
)

func init() {
	badgesCmd.Flags().BoolVar(&badgesNext, "next", false, "Show closest unearned badges instead")
	rootCmd.AddCommand(statsCmd, badgesCmd, challengesCmd)
}

var badgesNext bool

var statsCmd = &cobra.Command{
	Use:   "stats USER",
	Short: "Show points, level, streaks and today's progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDaemon(func(d *daemon.Daemon) error {
			s, err := d.Engine.GetUserStats(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, s)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Level %d %s  %s\n", s.Level.Number, s.Level.Title, renderBar(s.Level.ProgressPct))
			fmt.Fprintf(out, "Points %d  (%d to next)  Bonus XP %d\n\n", s.TotalPoints, s.Level.PointsToNext, s.BonusXP)

			w := newTable(out)
			fmt.Fprintln(w, "STREAK\tCURRENT\tBEST\tSTATUS")
			for _, st := range s.Streaks {
				status := "-"
				switch {
				case st.AtRisk:
					status = "at risk"
				case st.Alive && st.CurrentCount > 0:
					status = "alive"
				case st.CurrentCount > 0:
					status = "broken"
				}
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", st.Type, st.CurrentCount, st.LongestCount, status)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			fmt.Fprintf(out, "\nToday %s: %d pts, %d/%d tasks, MIT %v, reflection %v\n",
				s.Today.Date, s.Today.PointsEarned, s.Today.TasksCompleted, s.Today.TasksScheduled,
				s.Today.MITCompleted, s.Today.CheckinDone)
			fmt.Fprintf(out, "Week  %s..%s: %d pts, %d tasks, %d MIT days, %s%% aligned\n",
				s.ThisWeek.Start, s.ThisWeek.End, s.ThisWeek.PointsEarned, s.ThisWeek.TasksCompleted,
				s.ThisWeek.MITDays, s.ThisWeek.AlignmentRate.StringFixed(1))
			return nil
		})
	},
}

var badgesCmd = &cobra.Command{
	Use:   "badges USER",
	Short: "List earned badges",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDaemon(func(d *daemon.Daemon) error {
			out := cmd.OutOrStdout()
			if badgesNext {
				next, err := d.Engine.NextBadgeProgress(cmd.Context(), args[0], 5)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd, next)
				}
				w := newTable(out)
				fmt.Fprintln(w, "BADGE\tPROGRESS\t")
				for _, p := range next {
					fmt.Fprintf(w, "%s\t%d/%d\t%s\n", p.Name, p.Current, p.Target, renderBar(p.Percentage))
				}
				return w.Flush()
			}

			earned, err := d.Engine.EarnedBadges(cmd.Context(), args[0], 0)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, earned)
			}
			if len(earned) == 0 {
				fmt.Fprintln(out, "No badges yet. Complete a task to earn your first.")
				return nil
			}
			w := newTable(out)
			fmt.Fprintln(w, "BADGE\tCATEGORY\tEARNED")
			for _, b := range earned {
				fmt.Fprintf(w, "%s %s\t%s\t%s\n", b.Icon, b.Name, b.Category, b.EarnedAt.Format("2006-01-02"))
			}
			return w.Flush()
		})
	},
}

var challengesCmd = &cobra.Command{
	Use:   "challenges USER",
	Short: "Show today's and this week's challenges (generating them if needed)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDaemon(func(d *daemon.Daemon) error {
			board, err := d.Engine.EnsureChallengesExist(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, board)
			}

			w := newTable(cmd.OutOrStdout())
			fmt.Fprintln(w, "PERIOD\tCHALLENGE\tPROGRESS\t\tXP")
			for _, c := range append(board.Daily, board.Weekly...) {
				title := c.Title
				if c.IsCompleted {
					title += " (done)"
				}
				fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\t%d\n", c.Type, title, c.CurrentValue, c.TargetValue, renderBar(c.ProgressPct), c.BonusXP)
			}
			return w.Flush()
		})
	},
}
