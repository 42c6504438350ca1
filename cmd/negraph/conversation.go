package main

import (
	"fmt"

	"github.com/niechao136/neGraph"
	"github.com/niechao136/neGraph/checkpoint"
	"github.com/urfave/cli/v2"
)

func userFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "user",
		Aliases:  []string{"u"},
		Usage:    "Owner `USER_ID`",
		Required: true,
	}
}

func conversationFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "id",
		Usage:    "Conversation `ID`",
		Required: true,
	}
}

// ConversationCommand returns the conversation command
func ConversationCommand() *cli.Command {
	return &cli.Command{
		Name:    "conversation",
		Aliases: []string{"conv"},
		Usage:   "Create and inspect conversations",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Start a conversation for a user",
				Flags: []cli.Flag{
					userFlag(),
					&cli.StringFlag{Name: "summary", Usage: "Initial summary"},
				},
				Action: runConversationCreate,
			},
			{
				Name:  "list",
				Usage: "List a user's conversations, newest first",
				Flags: []cli.Flag{
					userFlag(),
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Page size"},
					&cli.StringFlag{Name: "before", Usage: "Cursor returned as next_cursor by the previous page"},
				},
				Action: runConversationList,
			},
			{
				Name:  "show",
				Usage: "Print the checkpoint of a conversation",
				Flags: []cli.Flag{
					userFlag(),
					conversationFlag(),
					&cli.BoolFlag{Name: "blocks", Usage: "Group messages into exchanges"},
				},
				Action: runConversationShow,
			},
			{
				Name:  "summary",
				Usage: "Set or clear the summary of a conversation",
				Flags: []cli.Flag{
					userFlag(),
					conversationFlag(),
					&cli.StringFlag{Name: "text", Usage: "New summary"},
					&cli.BoolFlag{Name: "clear", Usage: "Remove the summary"},
				},
				Action: runConversationSummary,
			},
		},
	}
}

func runConversationCreate(c *cli.Context) error {
	b, err := openBackend(c)
	if err != nil {
		return err
	}
	defer b.close()

	var summary *string
	if c.IsSet("summary") {
		s := c.String("summary")
		summary = &s
	}

	id, err := b.saver.Create(c.Context, c.String("user"), summary)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	return printJSON(c, map[string]string{"conversation_id": id})
}

func runConversationList(c *cli.Context) error {
	b, err := openBackend(c)
	if err != nil {
		return err
	}
	defer b.close()

	page, err := b.saver.ListPage(c.Context, c.String("user"), c.Int("limit"), c.String("before"))
	if err != nil {
		return fmt.Errorf("failed to list conversations: %w", err)
	}

	return printJSON(c, page)
}

func runConversationShow(c *cli.Context) error {
	b, err := openBackend(c)
	if err != nil {
		return err
	}
	defer b.close()

	scope := negraph.Scope{ConversationID: c.String("id"), UserID: c.String("user")}
	cp, err := b.saver.Load(c.Context, scope)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	if c.Bool("blocks") {
		return printJSON(c, checkpoint.Blocks(cp))
	}
	return printJSON(c, cp)
}

func runConversationSummary(c *cli.Context) error {
	if c.IsSet("text") == c.Bool("clear") {
		return fmt.Errorf("exactly one of --text or --clear is required")
	}

	b, err := openBackend(c)
	if err != nil {
		return err
	}
	defer b.close()

	var summary *string
	if c.IsSet("text") {
		s := c.String("text")
		summary = &s
	}

	scope := negraph.Scope{ConversationID: c.String("id"), UserID: c.String("user")}
	if err := b.saver.SetSummary(c.Context, scope, summary); err != nil {
		return fmt.Errorf("failed to set summary: %w", err)
	}

	b.log.Info().Str("conversation_id", scope.ConversationID).Msg("Summary updated")
	return nil
}
