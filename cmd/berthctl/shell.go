package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
)

var shellCompleter = readline.NewPrefixCompleter(
	readline.PcItem("create"),
	readline.PcItem("destroy"),
	readline.PcItem("list"),
	readline.PcItem("status"),
	readline.PcItem("resolve"),
	readline.PcItem("config",
		readline.PcItem("put"),
		readline.PcItem("get"),
		readline.PcItem("rm"),
		readline.PcItem("ls"),
	),
	readline.PcItem("help"),
	readline.PcItem("exit"),
)

// runShell runs an interactive line-at-a-time version of the
// command surface against one connection.
func runShell(ctx context.Context, e env) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "berth> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".berthctl_history"),
		AutoComplete:    shellCompleter,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("shell: %w", err)
	}
	defer rl.Close()

	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				return nil
			}
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		args := strings.Fields(strings.TrimSpace(line))
		if len(args) == 0 {
			continue
		}
		switch args[0] {
		case "exit", "quit":
			return nil
		case "help":
			shellHelp(e.out)
			continue
		case "claim", "shell":
			// Claims hold until the process ends, which has no
			// sensible shape inside the shell.
			fmt.Fprintf(e.out, "%s is only available as a top-level command\n", args[0])
			continue
		}
		if err := runCommand(ctx, e, args); err != nil {
			fmt.Fprintln(e.out, "error:", err)
		}
	}
}

func shellHelp(out io.Writer) {
	fmt.Fprint(out, `create <coordinate>
destroy <coordinate>
list
status <coordinate>
resolve <pattern> [strategy]
config put <coordinate> <name> <file|->
config get <coordinate> <name>
config rm <coordinate> <name>
config ls <coordinate>
exit
`)
}
