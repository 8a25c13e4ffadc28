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
	goalAddCmd.Flags().StringVar(&goalParent, "parent", "", "Parent goal ID (one level up)")
	goalAddCmd.Flags().StringVar(&goalArea, "area", "", "Life area the goal belongs to")
	goalCmd.AddCommand(goalAddCmd)
	rootCmd.AddCommand(goalCmd)
}

var (
	goalParent string
	goalArea   string
)

var goalCmd = &cobra.Command{
	Use:   "goal",
	Short: "Manage the goal cascade",
}

var goalAddCmd = &cobra.Command{
	Use:   "add USER LEVEL TITLE",
	Short: "Add a goal (VISION, THREE_YEAR, ONE_YEAR, MONTHLY or WEEKLY)",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := engagement.GoalInput{
			ParentID: goalParent,
			Level:    domain.GoalLevel(strings.ToUpper(args[1])),
			Title:    args[2],
			Category: domain.LifeArea(strings.ToUpper(goalArea)),
		}
		return withDaemon(func(d *daemon.Daemon) error {
			g, err := d.Engine.CreateGoal(cmd.Context(), args[0], in)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, g)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", g.ID, g.Level, g.Title)
			return nil
		})
	},
}
