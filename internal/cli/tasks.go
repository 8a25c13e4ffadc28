package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cascade-app/cascade/internal/app/engagement"
	"github.com/cascade-app/cascade/internal/daemon"
	"github.com/cascade-app/cascade/internal/domain"
)

func init() {
	userAddCmd.Flags().StringVar(&userTimezone, "tz", "UTC", "IANA timezone used for local days")
	userCmd.AddCommand(userAddCmd)

	taskAddCmd.Flags().StringVarP(&taskPriority, "priority", "p", string(domain.PrioritySecondary), "MIT, PRIMARY or SECONDARY")
	taskAddCmd.Flags().StringVar(&taskGoal, "goal", "", "Goal ID the task serves")
	taskAddCmd.Flags().StringVar(&taskDate, "date", "", "Scheduled local date (YYYY-MM-DD, default today)")
	taskCmd.AddCommand(taskAddCmd)

	rootCmd.AddCommand(userCmd, taskCmd, completeCmd, uncompleteCmd, checkinCmd, actionCmd)
}

var (
	userTimezone string
	taskPriority string
	taskGoal     string
	taskDate     string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var userAddCmd = &cobra.Command{
	Use:   "add [ID]",
	Short: "Create a user (a UUID is generated when ID is omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := ""
		if len(args) == 1 {
			id = args[0]
		}
		return withDaemon(func(d *daemon.Daemon) error {
			u, err := d.Engine.CreateUser(cmd.Context(), id, userTimezone)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, u)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created user %s (%s)\n", u.ID, u.Timezone)
			return nil
		})
	},
}

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add USER TITLE",
	Short: "Schedule a task",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := engagement.TaskInput{
			GoalID:        taskGoal,
			Title:         args[1],
			Priority:      domain.TaskPriority(strings.ToUpper(taskPriority)),
			ScheduledDate: domain.LocalDate(taskDate),
		}
		return withDaemon(func(d *daemon.Daemon) error {
			t, err := d.Engine.CreateTask(cmd.Context(), args[0], in)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, t)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", t.ID, t.Priority, t.Title)
			return nil
		})
	},
}

var completeCmd = &cobra.Command{
	Use:   "complete TASK",
	Short: "Mark a task completed and award points",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDaemon(func(d *daemon.Daemon) error {
			res, err := d.Engine.CompleteTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, res)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "+%d points (total %d)\n", res.PointsEarned, res.NewTotal)
			printProgression(cmd, res.Progression)
			return nil
		})
	},
}

var uncompleteCmd = &cobra.Command{
	Use:   "uncomplete TASK",
	Short: "Revert a completion and remove its points",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDaemon(func(d *daemon.Daemon) error {
			res, err := d.Engine.UncompleteTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "-%d points (total %d)\n", res.PointsRemoved, res.NewTotal)
			return nil
		})
	},
}

var checkinCmd = &cobra.Command{
	Use:   "checkin USER [AREA...]",
	Short: "Submit today's reflection, ticking the given life areas",
	Long: `Submit today's kaizen reflection. Areas: HEALTH, RELATIONSHIPS, CAREER,
FINANCES, GROWTH, RECREATION.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		areas := make(map[domain.LifeArea]bool, len(args)-1)
		for _, a := range args[1:] {
			areas[domain.LifeArea(strings.ToUpper(a))] = true
		}
		return withDaemon(func(d *daemon.Daemon) error {
			res, err := d.Engine.SubmitCheckin(cmd.Context(), args[0], areas)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, res)
			}
			out := cmd.OutOrStdout()
			if res.FirstOfDay {
				fmt.Fprintf(out, "Reflection saved: +%d points (total %d)\n", res.PointsEarned, res.NewTotal)
			} else {
				fmt.Fprintf(out, "Reflection updated (%d areas)\n", res.AreasChecked)
			}
			printProgression(cmd, res.Progression)
			return nil
		})
	},
}

var actionCmd = &cobra.Command{
	Use:   "action USER KIND",
	Short: "Record a DAILY_PLANNING, WEEKLY_REVIEW or MONTHLY_REVIEW",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := domain.ActionKind(strings.ToUpper(args[1]))
		return withDaemon(func(d *daemon.Daemon) error {
			res, err := d.Engine.RecordAction(cmd.Context(), args[0], kind)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, res)
			}
			out := cmd.OutOrStdout()
			if !res.Recorded {
				fmt.Fprintf(out, "%s already recorded for %s\n", res.Kind, res.PeriodKey)
				return nil
			}
			fmt.Fprintf(out, "%s recorded for %s\n", res.Kind, res.PeriodKey)
			printProgression(cmd, res.Progression)
			return nil
		})
	},
}

func printProgression(cmd *cobra.Command, p engagement.Progression) {
	out := cmd.OutOrStdout()
	if p.LeveledUp && p.NewLevel != nil {
		fmt.Fprintf(out, "Level up! You are now level %d: %s\n", p.NewLevel.Number, p.NewLevel.Title)
	}
	if p.Streak != nil {
		fmt.Fprintf(out, "Streak %s: %d (best %d)\n", p.Streak.Type, p.Streak.CurrentCount, p.Streak.LongestCount)
		if p.Streak.MilestoneCrossed > 0 {
			fmt.Fprintf(out, "Milestone reached: %d!\n", p.Streak.MilestoneCrossed)
		}
	}
	for _, b := range p.BadgesEarned {
		fmt.Fprintf(out, "Badge earned: %s %s\n", b.Icon, b.Name)
	}
	for _, c := range p.ChallengesCompleted {
		fmt.Fprintf(out, "Challenge complete: %s (+%d XP)\n", c.Title, c.BonusXP)
	}
	if len(p.Degraded) > 0 {
		fmt.Fprintf(out, "warning: could not update %s\n", strings.Join(p.Degraded, ", "))
	}
}
