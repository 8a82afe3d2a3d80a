package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// execIface defines the command surface the REPL dispatches to. The real
// Shell satisfies it; tests can provide a lightweight stub.
type execIface interface {
	Add(ctx context.Context, args []string) error
	Update(ctx context.Context, args []string) error
	List(ctx context.Context, args []string) error
	Show(ctx context.Context, args []string) error
	Delete(ctx context.Context, args []string) error
	Clear(ctx context.Context, args []string) error
	Recognize(ctx context.Context, args []string) error
	Sync(ctx context.Context, args []string) error
	Status(ctx context.Context, args []string) error
	Retry(ctx context.Context, args []string) error
}

const helpText = "Available commands: add, update, (l)ist, show, delete, clear, recognize, sync, status, retry, exit"

// runREPL reads a line from scanner, parses the first token as the command
// and dispatches the remaining tokens to a. Prompts and command errors go to
// out and the loop goes on. The loop exits on scanner EOF, on "exit" or
// "quit", or when ctx is cancelled.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner, out io.Writer) {
	for {
		if ctx.Err() != nil {
			return
		}
		fmt.Fprintf(out, "foodai %s> ", statusFn())
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var err error
		switch cmd {
		case "help":
			fmt.Fprintln(out, helpText)
		case "add":
			err = a.Add(ctx, args)
		case "update":
			err = a.Update(ctx, args)
		case "l", "list":
			err = a.List(ctx, args)
		case "show":
			err = a.Show(ctx, args)
		case "delete", "rm":
			err = a.Delete(ctx, args)
		case "clear":
			err = a.Clear(ctx, args)
		case "recognize":
			err = a.Recognize(ctx, args)
		case "sync":
			err = a.Sync(ctx, args)
		case "status":
			err = a.Status(ctx, args)
		case "retry":
			err = a.Retry(ctx, args)
		case "exit", "quit":
			fmt.Fprintln(out, "Bye!")
			return
		default:
			fmt.Fprintln(out, "Unknown command:", cmd)
		}

		if err != nil {
			fmt.Fprintln(out, "Error:", err)
		}
	}
}
