package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knowhq/sable/pkg/graph"
	"github.com/knowhq/sable/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func graphTurn(thread model.ThreadID, message string, identity *model.UserIdentity, events model.EventSink) graph.TurnInput {
	return graph.TurnInput{
		Thread:   thread,
		Message:  message,
		Identity: identity,
		Events:   events,
	}
}

func askCommand() *cli.Command {
	var (
		cfg        config
		thread     string
		userID     string
		email      string
		department string
		roles      []string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "thread",
			Aliases:     []string{"t"},
			Usage:       "Thread ID to continue (new thread when omitted)",
			Sources:     cli.EnvVars("SABLE_THREAD_ID"),
			Destination: &thread,
		},
	}
	flags = append(flags, identityFlags(&userID, &email, &department, &roles)...)
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:      "ask",
		Usage:     "Run a single turn and print the answer",
		ArgsUsage: "<message>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			message := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if message == "" {
				return goerr.New("message is required")
			}

			ctx = cfg.setupLogger(ctx)

			machine, err := cfg.newMachine(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to assemble agent")
			}

			identity := buildIdentity(userID, email, department, roles)
			result, err := machine.Run(ctx, graphTurn(model.ThreadID(thread), message, identity, printEvents(os.Stdout)))
			if err != nil {
				return goerr.Wrap(err, "turn failed")
			}

			fmt.Fprintf(c.Root().Writer, "thread: %s\n", result.Thread)
			return nil
		},
	}
}
