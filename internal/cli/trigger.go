package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// NewTriggerCmd создаёт группу команд для управления триггерами.
func NewTriggerCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Manage triggers",
	}

	cmd.AddCommand(
		newTriggerListCmd(clientFn, outputFn),
		newTriggerCreateCmd(clientFn, outputFn),
		newTriggerShowCmd(clientFn, outputFn),
		newTriggerEnableCmd(clientFn, outputFn),
		newTriggerDisableCmd(clientFn, outputFn),
		newTriggerSubmitCmd(clientFn, outputFn),
		newTriggerEventCmd(clientFn, outputFn),
	)

	return cmd
}

var triggerHeaders = []string{"ID", "NAME", "TYPE", "ACTIVE", "ARMED", "LAST_FIRED"}

func triggerRow(t TriggerResponse) []string {
	return []string{
		t.ID, t.Name, t.Type, strconv.FormatBool(t.IsActive),
		strconv.FormatBool(t.Armed), t.LastFiredAt,
	}
}

func newTriggerListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var definitionID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List triggers of a definition",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			triggers, err := client.ListTriggers(definitionID)
			if err != nil {
				return err
			}

			rows := make([][]string, len(triggers))
			for i, t := range triggers {
				rows[i] = triggerRow(t)
			}

			out.Print(triggerHeaders, rows, triggers)
			return nil
		},
	}

	cmd.Flags().StringVar(&definitionID, "definition", "", "Definition ID (required)")
	cmd.MarkFlagRequired("definition")

	return cmd
}

func newTriggerCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var specFile string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a trigger from JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			data, err := os.ReadFile(specFile)
			if err != nil {
				return fmt.Errorf("failed to read trigger file: %w", err)
			}
			if !json.Valid(data) {
				return fmt.Errorf("trigger file is not valid JSON")
			}

			trig, err := client.CreateTrigger(json.RawMessage(data))
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Trigger created: %s", trig.ID))
			out.Print(triggerHeaders, [][]string{triggerRow(*trig)}, trig)
			return nil
		},
	}

	cmd.Flags().StringVar(&specFile, "file", "", "Path to trigger JSON file (required)")
	cmd.MarkFlagRequired("file")

	return cmd
}

func newTriggerShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show trigger details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			trig, err := client.GetTrigger(args[0])
			if err != nil {
				return err
			}

			out.Print(triggerHeaders, [][]string{triggerRow(*trig)}, trig)
			return nil
		},
	}
}

func newTriggerEnableCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "enable ID",
		Short: "Enable a trigger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.SetTriggerActive(args[0], true); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Trigger enabled: %s", args[0]))
			return nil
		},
	}
}

func newTriggerDisableCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "disable ID",
		Short: "Disable a trigger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.SetTriggerActive(args[0], false); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Trigger disabled: %s", args[0]))
			return nil
		},
	}
}

func newTriggerSubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var payloadJSON string
	var token string

	cmd := &cobra.Command{
		Use:   "submit NAME",
		Short: "Fire a WEBHOOK or MANUAL trigger by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			var payload json.RawMessage
			if payloadJSON != "" {
				if !json.Valid([]byte(payloadJSON)) {
					return fmt.Errorf("invalid --payload JSON")
				}
				payload = json.RawMessage(payloadJSON)
			}

			resp, err := client.SubmitTrigger(args[0], token, payload)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Instance started: %s", resp.InstanceID))
			out.Print([]string{"INSTANCE_ID"}, [][]string{{resp.InstanceID}}, resp)
			return nil
		},
	}

	cmd.Flags().StringVar(&payloadJSON, "payload", "", "Trigger payload as JSON object")
	cmd.Flags().StringVar(&token, "token", "", "Bearer token for WEBHOOK triggers")

	return cmd
}

func newTriggerEventCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var payloadJSON string

	cmd := &cobra.Command{
		Use:   "event TYPE",
		Short: "Submit an event for EVENT triggers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			var payload json.RawMessage
			if payloadJSON != "" {
				if !json.Valid([]byte(payloadJSON)) {
					return fmt.Errorf("invalid --payload JSON")
				}
				payload = json.RawMessage(payloadJSON)
			}

			resp, err := client.SubmitEvent(args[0], payload)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Instance started: %s", resp.InstanceID))
			out.Print([]string{"INSTANCE_ID"}, [][]string{{resp.InstanceID}}, resp)
			return nil
		},
	}

	cmd.Flags().StringVar(&payloadJSON, "payload", "", "Event payload as JSON object")

	return cmd
}
