package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/niechao136/neGraph"
	"github.com/niechao136/neGraph/checkpoint"
	"github.com/niechao136/neGraph/gormstore"
	"github.com/niechao136/neGraph/internal/config"
	"github.com/niechao136/neGraph/internal/logging"
	"github.com/niechao136/neGraph/memstore"
	"github.com/niechao136/neGraph/postgres"
)

func main() {
	ctx := context.Background()

	// Load configuration from negraph.toml and NEGRAPH_ environment variables.
	cfg, err := config.Load("")
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatal(err)
	}

	// Pick the store. Without a database url everything stays in memory.
	var store negraph.Store
	switch {
	case cfg.Database.URL == "":
		store = memstore.New()
		fmt.Println("✓ Using in-memory store")
	case cfg.Database.Driver == gormstore.DriverSQLite:
		s, err := gormstore.Open(gormstore.Config{Driver: gormstore.DriverSQLite, DSN: cfg.Database.URL, Logger: logger})
		if err != nil {
			log.Fatal(err)
		}
		defer s.Close()
		if err := s.CreateSchema(ctx); err != nil {
			log.Fatal(err)
		}
		store = s
		fmt.Println("✓ SQLite schema ready")
	default:
		pool := postgres.NewPool(postgres.PoolConfig{
			URL:            cfg.Database.URL,
			MaxConns:       cfg.Database.MaxConns,
			ConnectTimeout: cfg.Database.ConnectTimeout,
		})
		defer pool.Close()
		s := postgres.New(pool)
		if err := s.CreateSchema(ctx); err != nil {
			log.Fatal(err)
		}
		store = s
		fmt.Println("✓ PostgreSQL schema ready")
	}

	saver := checkpoint.New(store, checkpoint.WithLogger(logger))

	// Start a conversation for u1.
	convID, err := saver.Create(ctx, "u1", nil)
	if err != nil {
		log.Fatal(err)
	}
	scope := negraph.Scope{ConversationID: convID, UserID: "u1"}
	fmt.Printf("✓ Conversation created: %s\n\n", convID)

	// TURN 1: user greets, assistant searches and answers.
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("TURN 1: save user message and assistant reply with a tool call")
	fmt.Println(strings.Repeat("=", 80))

	turn := []negraph.TurnMessage{
		{ID: "m1", Kind: "human", Content: "hello"},
		{
			ID:      "m2",
			Kind:    "ai",
			Content: "hi",
			ToolCalls: []negraph.TurnToolCall{
				{ID: "tc1", ToolName: "search", Input: json.RawMessage(`{"q":"hello"}`), Output: json.RawMessage(`{"hits":1}`)},
			},
		},
	}

	res, err := saver.Save(ctx, scope, turn)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("✓ Saved: %d messages, %d tool calls\n", res.MessagesInserted, res.ToolCallsInserted)

	// Saving the same turn again writes nothing.
	res, err = saver.Save(ctx, scope, turn)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("✓ Replayed: %d messages skipped, %d tool calls skipped\n", res.MessagesSkipped, res.ToolCallsSkipped)

	// TURN 2: load the checkpoint the agent would resume from.
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("TURN 2: load checkpoint")
	fmt.Println(strings.Repeat("=", 80))

	cp, err := saver.Load(ctx, scope)
	if err != nil {
		log.Fatal(err)
	}
	for _, m := range cp.Messages {
		fmt.Printf("  - [%s] %s (%d tool calls)\n", m.Sender, m.Content, len(m.ToolCalls))
	}

	// Another user sees nothing.
	other, err := saver.Load(ctx, negraph.Scope{ConversationID: convID, UserID: "u2"})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("✓ u2 sees %d messages\n", len(other.Messages))

	// Conversation list.
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("CONVERSATIONS")
	fmt.Println(strings.Repeat("=", 80))

	page, err := saver.ListPage(ctx, "u1", 10, "")
	if err != nil {
		log.Fatal(err)
	}
	out, _ := json.MarshalIndent(page, "", "  ")
	fmt.Println(string(out))

	blocks := checkpoint.Blocks(cp)
	fmt.Printf("\n✓ %d exchange(s) in conversation\n", len(blocks))
}
