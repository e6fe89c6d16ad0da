package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
)

// ChatCmd opens a simple line-oriented REPL against one registered
// agent through the runtime's RunPrompt entry point (the one chain prompt
// steps use; pkg/server's chat-completions handler goes through Run
// instead), so no turn is written to the ConversationStore. Useful for
// local testing of a prompt template or provider configuration without
// standing up the HTTP surface.
type ChatCmd struct {
	Agent string `arg:"" help:"Agent name to chat with."`
}

func (c *ChatCmd) Run(cli *CLI) error {
	ctx := context.Background()

	a, err := buildApp(ctx, cli)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, ok := a.rt.Agent(c.Agent); !ok {
		return fmt.Errorf("agent %q is not registered", c.Agent)
	}

	fmt.Printf("chatting with %q (Ctrl+D to quit)\n", c.Agent)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		reply, err := a.rt.RunPrompt(ctx, c.Agent, line)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}
		fmt.Println(reply)
	}
}
