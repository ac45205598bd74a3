package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewInstanceCmd создаёт группу команд для управления instances.
func NewInstanceCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "instance",
		Aliases: []string{"inst"},
		Short:   "Manage workflow instances",
	}

	cmd.AddCommand(
		newInstanceListCmd(clientFn, outputFn),
		newInstanceStartCmd(clientFn, outputFn),
		newInstanceShowCmd(clientFn, outputFn),
		newInstanceAuditCmd(clientFn, outputFn),
		newInstanceCancelCmd(clientFn, outputFn),
		newInstancePauseCmd(clientFn, outputFn),
		newInstanceResumeCmd(clientFn, outputFn),
		newInstanceApproveCmd(clientFn, outputFn),
	)

	return cmd
}

var instanceHeaders = []string{"ID", "DEFINITION", "VER", "STATUS", "DEPTH", "STARTED", "FINISHED"}

func instanceRow(i InstanceResponse) []string {
	return []string{
		i.ID, i.DefinitionID, strconv.Itoa(i.Version), i.Status,
		strconv.Itoa(i.Depth), i.StartedAt, i.FinishedAt,
	}
}

func newInstanceListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var definitionID string
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflow instances (active by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			instances, err := client.ListInstances(ListInstancesOpts{
				DefinitionID: definitionID,
				Status:       status,
			})
			if err != nil {
				return err
			}

			rows := make([][]string, len(instances))
			for i, inst := range instances {
				rows[i] = instanceRow(inst)
			}

			out.Print(instanceHeaders, rows, instances)
			return nil
		},
	}

	cmd.Flags().StringVar(&definitionID, "definition", "", "Filter by definition ID")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")

	return cmd
}

func newInstanceStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var contextJSON string
	var version int
	var priority int

	cmd := &cobra.Command{
		Use:   "start DEFINITION_ID",
		Short: "Start a new workflow instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := CreateInstanceRequest{Version: version, Priority: priority}
			if contextJSON != "" {
				if err := json.Unmarshal([]byte(contextJSON), &req.Context); err != nil {
					return fmt.Errorf("invalid --context JSON: %w", err)
				}
			}

			inst, err := client.CreateInstance(args[0], req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Instance started: %s", inst.ID))
			out.Print(instanceHeaders, [][]string{instanceRow(*inst)}, inst)
			return nil
		},
	}

	cmd.Flags().StringVar(&contextJSON, "context", "", "Initial context as JSON object")
	cmd.Flags().IntVar(&version, "version", 0, "Definition version (default: latest)")
	cmd.Flags().IntVar(&priority, "priority", 0, "Task priority override")

	return cmd
}

func newInstanceShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show instance with step states",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			status, err := client.GetInstance(args[0])
			if err != nil {
				return err
			}

			if !cmd.Flags().Changed("json") {
				out.Table(instanceHeaders, [][]string{instanceRow(status.Instance)})
			}

			headers := []string{"STEP", "TYPE", "STATUS", "TEAM", "RETRIES", "ERROR"}
			rows := make([][]string, len(status.Steps))
			for i, s := range status.Steps {
				rows[i] = []string{
					s.StepID, s.Type, s.Status, s.AssignedTeam,
					strconv.Itoa(s.RetryCount), s.Error,
				}
			}

			out.Print(headers, rows, status)
			return nil
		},
	}
}

func newInstanceAuditCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "audit ID",
		Short: "Show instance audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			events, err := client.ListAudit(args[0])
			if err != nil {
				return err
			}

			headers := []string{"TIME", "EVENT", "TEAM", "REASON"}
			rows := make([][]string, len(events))
			for i, e := range events {
				rows[i] = []string{e.CreatedAt, e.EventType, e.Team, e.Reason}
			}

			out.Print(headers, rows, events)
			return nil
		},
	}
}

func newInstanceCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a workflow instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.CancelInstance(args[0], reason); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Instance cancelled: %s", args[0]))
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Cancellation reason")

	return cmd
}

func newInstancePauseCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "pause ID",
		Short: "Pause a running instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.PauseInstance(args[0], reason); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Instance paused: %s", args[0]))
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Pause reason")

	return cmd
}

func newInstanceResumeCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "resume ID",
		Short: "Resume a paused instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.ResumeInstance(args[0]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Instance resumed: %s", args[0]))
			return nil
		},
	}
}

func newInstanceApproveCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var approver string

	cmd := &cobra.Command{
		Use:   "approve STEP_ID",
		Short: "Approve an APPROVAL step directly",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.ApproveStep(args[0], approver); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Step approved: %s", args[0]))
			return nil
		},
	}

	cmd.Flags().StringVar(&approver, "approver", "", "Approver identity (required)")
	cmd.MarkFlagRequired("approver")

	return cmd
}
