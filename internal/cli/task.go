package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewTaskCmd создаёт группу команд для работы с team tasks.
func NewTaskCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Work with team tasks",
	}

	cmd.AddCommand(
		newTaskListCmd(clientFn, outputFn),
		newTaskShowCmd(clientFn, outputFn),
		newTaskClaimCmd(clientFn, outputFn),
		newTaskStartCmd(clientFn, outputFn),
		newTaskCompleteCmd(clientFn, outputFn),
		newTaskFailCmd(clientFn, outputFn),
	)

	return cmd
}

var taskHeaders = []string{"ID", "TEAM", "ACTION", "ATTEMPT", "PRIO", "STATUS", "CLAIMED_BY", "DEADLINE"}

func taskRow(t TaskResponse) []string {
	return []string{
		t.ID, t.Team, t.Action, strconv.Itoa(t.Attempt),
		strconv.Itoa(t.Priority), t.Status, t.ClaimedBy, t.Deadline,
	}
}

func newTaskListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list TEAM",
		Short: "List pending tasks for a team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			tasks, err := client.ListTeamTasks(args[0], limit)
			if err != nil {
				return err
			}

			rows := make([][]string, len(tasks))
			for i, t := range tasks {
				rows[i] = taskRow(t)
			}

			out.Print(taskHeaders, rows, tasks)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Max tasks to return")

	return cmd
}

func newTaskShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show task details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			task, err := client.GetTask(args[0])
			if err != nil {
				return err
			}

			out.Print(taskHeaders, [][]string{taskRow(*task)}, task)
			return nil
		},
	}
}

func newTaskClaimCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var memberID string

	cmd := &cobra.Command{
		Use:   "claim ID",
		Short: "Claim a pending task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			task, err := client.ClaimTask(args[0], memberID)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Task claimed by %s", memberID))
			out.Print(taskHeaders, [][]string{taskRow(*task)}, task)
			return nil
		},
	}

	cmd.Flags().StringVar(&memberID, "member", "", "Team member identity (required)")
	cmd.MarkFlagRequired("member")

	return cmd
}

func newTaskStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "start ID",
		Short: "Mark a claimed task as in progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.StartTask(args[0]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Task started: %s", args[0]))
			return nil
		},
	}
}

func newTaskCompleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var outputJSON string

	cmd := &cobra.Command{
		Use:   "complete ID",
		Short: "Complete a task with output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			var output json.RawMessage
			if outputJSON != "" {
				if !json.Valid([]byte(outputJSON)) {
					return fmt.Errorf("invalid --output JSON")
				}
				output = json.RawMessage(outputJSON)
			}

			if err := client.CompleteTask(args[0], output); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Task completed: %s", args[0]))
			return nil
		},
	}

	cmd.Flags().StringVar(&outputJSON, "output", "", "Task output as JSON object")

	return cmd
}

func newTaskFailCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "fail ID",
		Short: "Fail a task with a reason",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.FailTask(args[0], reason); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Task failed: %s", args[0]))
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Failure reason (required)")
	cmd.MarkFlagRequired("reason")

	return cmd
}
