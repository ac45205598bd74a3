package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// NewDefinitionCmd создаёт группу команд для управления definitions.
func NewDefinitionCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "definition",
		Aliases: []string{"def"},
		Short:   "Manage workflow definitions",
	}

	cmd.AddCommand(
		newDefinitionListCmd(clientFn, outputFn),
		newDefinitionCreateCmd(clientFn, outputFn),
		newDefinitionShowCmd(clientFn, outputFn),
		newDefinitionStatusCmd(clientFn, outputFn),
		newDefinitionVersionsCmd(clientFn, outputFn),
		newDefinitionPublishCmd(clientFn, outputFn),
	)

	return cmd
}

func definitionRow(d DefinitionResponse) []string {
	return []string{d.ID, d.Name, d.Category, d.Status, d.CreatedAt}
}

var definitionHeaders = []string{"ID", "NAME", "CATEGORY", "STATUS", "CREATED"}

func newDefinitionListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all workflow definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			defs, err := client.ListDefinitions()
			if err != nil {
				return err
			}

			rows := make([][]string, len(defs))
			for i, d := range defs {
				rows[i] = definitionRow(d)
			}

			out.Print(definitionHeaders, rows, defs)
			return nil
		},
	}
}

func newDefinitionCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var name string
	var category string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new workflow definition",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			def, err := client.CreateDefinition(name, category)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Definition created: %s", def.ID))
			out.Print(definitionHeaders, [][]string{definitionRow(*def)}, def)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Definition name (required)")
	cmd.Flags().StringVar(&category, "category", "", "Definition category")
	cmd.MarkFlagRequired("name")

	return cmd
}

func newDefinitionShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show definition details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			def, err := client.GetDefinition(args[0])
			if err != nil {
				return err
			}

			out.Print(definitionHeaders, [][]string{definitionRow(*def)}, def)
			return nil
		},
	}
}

func newDefinitionStatusCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "status ID STATUS",
		Short: "Change definition status (DRAFT/ACTIVE/DEPRECATED/ARCHIVED)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			def, err := client.SetDefinitionStatus(args[0], args[1])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Definition %s is now %s", def.ID, def.Status))
			out.Print(definitionHeaders, [][]string{definitionRow(*def)}, def)
			return nil
		},
	}
}

func newDefinitionVersionsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "versions DEFINITION_ID",
		Short: "List definition versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			versions, err := client.ListVersions(args[0])
			if err != nil {
				return err
			}

			headers := []string{"DEFINITION_ID", "VERSION", "CREATED"}
			rows := make([][]string, len(versions))
			for i, v := range versions {
				rows[i] = []string{v.DefinitionID, strconv.Itoa(v.Version), v.CreatedAt}
			}

			out.Print(headers, rows, versions)
			return nil
		},
	}
}

func newDefinitionPublishCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var graphFile string

	cmd := &cobra.Command{
		Use:   "publish DEFINITION_ID",
		Short: "Publish a new definition version from graph file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			data, err := os.ReadFile(graphFile)
			if err != nil {
				return fmt.Errorf("failed to read graph file: %w", err)
			}

			// Валидируем что это валидный JSON
			if !json.Valid(data) {
				return fmt.Errorf("graph file is not valid JSON")
			}

			version, err := client.CreateVersion(args[0], json.RawMessage(data))
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Version %d published for definition %s", version.Version, version.DefinitionID))
			out.Print(
				[]string{"DEFINITION_ID", "VERSION", "CREATED"},
				[][]string{{version.DefinitionID, strconv.Itoa(version.Version), version.CreatedAt}},
				version,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&graphFile, "graph-file", "", "Path to graph JSON file (required)")
	cmd.MarkFlagRequired("graph-file")

	return cmd
}
