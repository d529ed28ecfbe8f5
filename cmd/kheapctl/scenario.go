package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshuapare/kheap/internal/machine"
)

var scenarioList bool

func init() {
	cmd := newScenarioCmd()
	cmd.Flags().BoolVar(&scenarioList, "list", false, "List the available scenarios")
	rootCmd.AddCommand(cmd)
}

func newScenarioCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario [name...]",
		Short: "Run scripted heap scenarios",
		Long: `The scenario command runs scripted heap exercises with known outcomes,
each on a freshly booted machine. Without arguments every scenario runs.

Example:
  kheapctl scenario
  kheapctl scenario remainder size-class
  kheapctl scenario --list`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(args)
		},
	}
	return cmd
}

func runScenario(args []string) error {
	if scenarioList {
		rows := make([][]string, 0, len(machine.Scenarios))
		for _, s := range machine.Scenarios {
			rows = append(rows, []string{s.Name, s.Description})
		}
		printInfo("%s\n", renderTable([]string{"Scenario", "Description"}, rows))
		return nil
	}

	selected := machine.Scenarios
	if len(args) > 0 {
		selected = nil
		for _, name := range args {
			s, ok := machine.FindScenario(name)
			if !ok {
				return fmt.Errorf("unknown scenario %q", name)
			}
			selected = append(selected, s)
		}
	}

	base, err := loadConfig()
	if err != nil {
		return err
	}

	var results []machine.ScenarioResult
	var failed []string
	for _, s := range selected {
		printVerbose("Running scenario %s\n", s.Name)
		res, err := s.Run(base)
		if err != nil {
			return fmt.Errorf("scenario %s: %w", s.Name, err)
		}
		results = append(results, res)
		if !res.Passed {
			failed = append(failed, res.Name)
		}
	}

	if jsonOut {
		if err := printJSON(results); err != nil {
			return err
		}
	} else {
		rows := make([][]string, 0, len(results))
		for _, res := range results {
			verdict := passStyle().Render("PASS")
			if !res.Passed {
				verdict = failStyle().Render("FAIL")
			}
			rows = append(rows, []string{res.Name, res.Strategy, verdict, res.Detail})
		}
		printInfo("%s\n", renderTable([]string{"Scenario", "Strategy", "Result", "Detail"}, rows))
	}

	if len(failed) > 0 {
		return errors.New("scenarios failed: " + strings.Join(failed, ", "))
	}
	return nil
}
