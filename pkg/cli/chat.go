package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/knowhq/sable/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// identityFlags bind the caller identity. Without a user ID the turn runs
// with no security context and scoped tools fail closed.
func identityFlags(userID, email, department *string, roles *[]string) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "user-id",
			Usage:       "Authenticated user ID",
			Sources:     cli.EnvVars("SABLE_USER_ID"),
			Destination: userID,
		},
		&cli.StringFlag{
			Name:        "email",
			Usage:       "User email",
			Sources:     cli.EnvVars("SABLE_USER_EMAIL"),
			Destination: email,
		},
		&cli.StringFlag{
			Name:        "department",
			Usage:       "User department (defaults to the public tier)",
			Sources:     cli.EnvVars("SABLE_USER_DEPARTMENT"),
			Destination: department,
		},
		&cli.StringSliceFlag{
			Name:        "role",
			Usage:       "User role (repeatable)",
			Sources:     cli.EnvVars("SABLE_USER_ROLES"),
			Destination: roles,
		},
	}
}

func buildIdentity(userID, email, department string, roles []string) *model.UserIdentity {
	if userID == "" {
		return nil
	}
	id := model.NewUserIdentity(userID, email, department, roles)
	return &id
}

// printEvents renders the turn stream to the writer
func printEvents(w *os.File) model.EventSink {
	return func(ev model.StreamEvent) {
		switch ev.Type {
		case model.EventToken:
			fmt.Fprint(w, ev.Text)
		case model.EventToolStart:
			fmt.Fprintf(w, "\n[tool] %s ...\n", ev.Tool)
		case model.EventToolEnd:
			fmt.Fprintf(w, "[tool] %s done\n", ev.Tool)
		case model.EventDone:
			fmt.Fprintln(w)
		case model.EventError:
			fmt.Fprintf(w, "\n[error] %s\n", ev.Message)
		}
	}
}

func chatCommand() *cli.Command {
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
		Name:  "chat",
		Usage: "Interactive conversation with the knowledge assistant",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			machine, err := cfg.newMachine(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to assemble agent")
			}

			identity := buildIdentity(userID, email, department, roles)
			threadID := model.ThreadID(thread)
			events := printEvents(os.Stdout)

			scanner := bufio.NewScanner(os.Stdin)
			fmt.Fprintf(c.Root().Writer, "Chat session started. Type 'exit' to quit.\n")

			for {
				fmt.Fprintf(c.Root().Writer, "> ")
				if !scanner.Scan() {
					break
				}

				message := scanner.Text()
				if message == "exit" {
					break
				}
				if message == "" {
					continue
				}

				result, err := machine.Run(ctx, graphTurn(threadID, message, identity, events))
				if err != nil {
					return goerr.Wrap(err, "turn failed")
				}
				threadID = result.Thread
			}

			fmt.Fprintf(c.Root().Writer, "\nChat session completed (thread: %s)\n", threadID)
			return nil
		},
	}
}
