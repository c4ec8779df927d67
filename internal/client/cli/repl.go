package cli

import (
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// commands is the surface the REPL dispatches to. The real App satisfies it;
// tests can provide a lightweight stub.
type commands interface {
	Add(ctx context.Context, parentID string) error
	List(ctx context.Context) error
	Tree(ctx context.Context) error
	Show(ctx context.Context, id string) error
	Edit(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	Attach(ctx context.Context, path, parentID string) error
	Sync(ctx context.Context) error
	Status(ctx context.Context) error
}

// lineReader yields one input line per call, reporting false on EOF.
type lineReader func() (string, bool)

// runREPL reads lines, parses the first token as the command and dispatches
// to methods on a. Unknown commands are reported back to the user. The loop
// exits on EOF, "exit" or "quit". Command errors are printed, not fatal.
func runREPL(ctx context.Context, a commands, readLine lineReader) {
	for {
		printlnFn("szn> ")
		line, ok := readLine()
		if !ok {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var err error
		switch cmd {
		case "help":
			printlnFn("Available commands: add [parent], (l)ist, tree, show <id>, edit <id>, rm <id>, attach <path> [parent], sync, status, exit")

		case "add":
			err = a.Add(ctx, first(args))

		case "l", "list":
			err = a.List(ctx)

		case "tree":
			err = a.Tree(ctx)

		case "show":
			if len(args) == 0 {
				err = fmt.Errorf("usage: show <id>")
				break
			}
			err = a.Show(ctx, args[0])

		case "edit":
			if len(args) == 0 {
				err = fmt.Errorf("usage: edit <id>")
				break
			}
			err = a.Edit(ctx, args[0])

		case "rm":
			if len(args) == 0 {
				err = fmt.Errorf("usage: rm <id>")
				break
			}
			err = a.Remove(ctx, args[0])

		case "attach":
			if len(args) == 0 {
				err = fmt.Errorf("usage: attach <path> [parent]")
				break
			}
			err = a.Attach(ctx, args[0], first(args[1:]))

		case "sync":
			err = a.Sync(ctx)

		case "status":
			err = a.Status(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}

		if err != nil {
			printlnFn("error:", err.Error())
		}
	}
}

func first(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
