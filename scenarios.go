package main

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tanpawarit/Chative-Retention-Router/agent/router"
)

// Scripted conversations against the bundled customer file.
var scenarios = map[string][]string{
	"money_problems": {
		"hi, my email is sarah.j@email.com",
		"hey can't afford the $13/month care+ anymore, need to cancel",
	},
	"phone_problems": {
		"hello, I'm john.smith@email.com",
		"this phone keeps overheating, want to return it and cancel everything",
	},
	"questioning_value": {
		"hi there, email is mike.wilson@email.com",
		"paying for care+ but never used it, maybe just get rid of it?",
	},
	"technical_help": {
		"hey, my email is emily.b@email.com",
		"my phone won't charge anymore, tried different cables",
	},
	"billing_question": {
		"hi, david.lee@email.com here",
		"got charged $15.99 but thought care+ was $12.99, what's the extra?",
	},
}

var scenariosCmd = &cobra.Command{
	Use:   "scenarios [name...]",
	Short: "Replay the scripted support conversations",
	Long: `Runs the scripted conversations (all of them when no name is given) and
prints the transcript of each.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		names := args
		if len(names) == 0 {
			names = scenarioNames()
		}
		for _, name := range names {
			if _, ok := scenarios[name]; !ok {
				return fmt.Errorf("unknown scenario %q (known: %v)", name, scenarioNames())
			}
		}

		a, stop, err := startApp(cmd.Context())
		if err != nil {
			return err
		}
		defer stop()

		for _, name := range names {
			if err := runScenario(cmd.Context(), a.router, name, scenarios[name], cmd.OutOrStdout()); err != nil {
				return fmt.Errorf("scenario %s: %w", name, err)
			}
		}
		return nil
	},
}

func scenarioNames() []string {
	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func runScenario(ctx context.Context, r *router.Router, name string, messages []string, out io.Writer) error {
	id := name + "-" + uuid.NewString()[:8]
	fmt.Fprintf(out, "=== %s ===\n", name)
	for _, msg := range messages {
		res, err := r.HandleTurn(ctx, id, msg)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Customer: %s\nTechFlow [%s]: %s\n", msg, res.Role, res.Reply)
		if res.Warning != nil {
			fmt.Fprintf(out, "  (warning: %v)\n", res.Warning)
		}
		if res.Role.IsTerminal() {
			break
		}
	}
	fmt.Fprintln(out)
	return nil
}
