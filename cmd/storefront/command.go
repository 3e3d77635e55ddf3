package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// Command is one storefront subcommand.
type Command struct {
	Name        string
	Description string
	Usage       string
	Examples    []string
	Run         func(ctx context.Context, a *app, args []string) error
}

// PrintUsage prints the command's usage and examples.
func (c *Command) PrintUsage(w io.Writer) {
	fmt.Fprintf(w, "%s\n\n", c.Description)
	fmt.Fprintf(w, "USAGE:\n    %s\n\n", c.Usage)
	if len(c.Examples) > 0 {
		fmt.Fprintf(w, "EXAMPLES:\n")
		for _, example := range c.Examples {
			fmt.Fprintf(w, "    %s\n", example)
		}
		fmt.Fprintln(w)
	}
}

// CommandRegistry dispatches os.Args to registered commands.
type CommandRegistry struct {
	commands map[string]*Command
	order    []string
	newApp   func() (*app, error)
}

// NewCommandRegistry creates a registry.  newApp is called once, only when
// a command actually runs.
func NewCommandRegistry(newApp func() (*app, error)) *CommandRegistry {
	return &CommandRegistry{commands: make(map[string]*Command), newApp: newApp}
}

// Register adds a command.  Help lists commands in registration order.
func (r *CommandRegistry) Register(cmd *Command) {
	r.commands[cmd.Name] = cmd
	r.order = append(r.order, cmd.Name)
}

// Execute runs the command named by args[0].
func (r *CommandRegistry) Execute(ctx context.Context, args []string) error {
	if len(args) < 1 {
		r.PrintHelp(os.Stdout)
		return fmt.Errorf("no command specified")
	}

	name := args[0]
	switch name {
	case "help", "-h", "--help":
		if len(args) > 1 {
			if cmd, ok := r.commands[args[1]]; ok {
				cmd.PrintUsage(os.Stdout)
				return nil
			}
		}
		r.PrintHelp(os.Stdout)
		return nil
	}

	cmd, ok := r.commands[name]
	if !ok {
		r.PrintHelp(os.Stderr)
		return fmt.Errorf("unknown command: %s", name)
	}
	a, err := r.newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	return cmd.Run(ctx, a, args[1:])
}

// PrintHelp prints the command overview.
func (r *CommandRegistry) PrintHelp(w io.Writer) {
	fmt.Fprintln(w, "storefront - command-line client for the pharmacy storefront")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "    storefront <command> [arguments]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	for _, name := range r.order {
		fmt.Fprintf(w, "    %-12s %s\n", name, r.commands[name].Description)
	}
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Run 'storefront help <command>' for more information on a command.")
}

// TableWriter renders rows as a bordered table.
type TableWriter struct {
	w       io.Writer
	headers []string
	rows    [][]string
	widths  []int
}

// NewTableWriter creates a table writing to w.
func NewTableWriter(w io.Writer, headers ...string) *TableWriter {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len([]rune(h))
	}
	return &TableWriter{w: w, headers: headers, widths: widths}
}

// AddRow adds a row.
func (t *TableWriter) AddRow(row ...string) {
	t.rows = append(t.rows, row)
	for i, cell := range row {
		if n := len([]rune(cell)); i < len(t.widths) && n > t.widths[i] {
			t.widths[i] = n
		}
	}
}

// Print writes the table.
func (t *TableWriter) Print() {
	t.printSeparator("┌", "┬", "┐")
	t.printRow(t.headers)
	t.printSeparator("├", "┼", "┤")
	for _, row := range t.rows {
		t.printRow(row)
	}
	t.printSeparator("└", "┴", "┘")
}

func (t *TableWriter) printSeparator(left, mid, right string) {
	fmt.Fprint(t.w, left)
	for i, width := range t.widths {
		fmt.Fprint(t.w, strings.Repeat("─", width+2))
		if i < len(t.widths)-1 {
			fmt.Fprint(t.w, mid)
		}
	}
	fmt.Fprintln(t.w, right)
}

func (t *TableWriter) printRow(row []string) {
	fmt.Fprint(t.w, "│")
	for i, cell := range row {
		if i < len(t.widths) {
			fmt.Fprintf(t.w, " %-*s │", t.widths[i], cell)
		}
	}
	fmt.Fprintln(t.w)
}
