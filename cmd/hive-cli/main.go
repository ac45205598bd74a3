// Hive CLI — инструмент командной строки для управления
// definitions, instances, tasks и triggers через HTTP API.
//
// Использование:
//
//	hive [--api-url URL] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	definition  Управление workflow definitions
//	instance    Управление workflow instances
//	task        Работа с task-очередью команды
//	trigger     Управление триггерами
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Hive/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "hive",
		Short:         "Hive CLI — workflow orchestration tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewDefinitionCmd(clientFn, outputFn),
		cli.NewInstanceCmd(clientFn, outputFn),
		cli.NewTaskCmd(clientFn, outputFn),
		cli.NewTriggerCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
