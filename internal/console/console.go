// Package console provides the interactive operator shell.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/chzyer/readline"

	"matter-bridge/internal/bridge"
)

// Option configures a Console.
type Option func(*Console)

// WithPorts supplies the serial port lister used by the "ports" command.
func WithPorts(fn func() ([]string, error)) Option {
	return func(c *Console) { c.ports = fn }
}

// Console runs bridge commands typed by an operator.
type Console struct {
	br    *bridge.Bridge
	rl    *readline.Instance
	ports func() ([]string, error)
}

// New creates a console without a terminal. Use Attach to bind readline.
func New(br *bridge.Bridge, opts ...Option) *Console {
	c := &Console{br: br}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Attach binds the console to the process terminal.
func (c *Console) Attach() error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "bridge> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer(),
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	c.rl = rl
	return nil
}

// Stdout returns a writer that does not garble the prompt. Log output
// should go through it while the console is attached.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Run reads commands until EOF, "quit" or ctx is done. cancel is called
// when the operator exits.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()
	out := c.rl.Stdout()
	fmt.Fprintln(out, "Type 'help' for commands.")

	go func() {
		<-ctx.Done()
		c.rl.Close()
	}()

	for {
		line, err := c.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if ctx.Err() == nil {
				fmt.Fprintln(out, "Exiting...")
				cancel()
			}
			return
		}
		if c.Execute(line, out) {
			fmt.Fprintln(out, "Exiting...")
			cancel()
			return
		}
	}
}

func completer() *readline.PrefixCompleter {
	archetypes := make([]readline.PrefixCompleterInterface, 0)
	for _, a := range bridge.Archetypes() {
		archetypes = append(archetypes, readline.PcItem(string(a)))
	}
	return readline.NewPrefixCompleter(
		readline.PcItem("help"),
		readline.PcItem("list"),
		readline.PcItem("show"),
		readline.PcItem("on"),
		readline.PcItem("off"),
		readline.PcItem("toggle"),
		readline.PcItem("temp"),
		readline.PcItem("humidity"),
		readline.PcItem("battery",
			readline.PcItem("ok"), readline.PcItem("warning"), readline.PcItem("critical")),
		readline.PcItem("reachable"),
		readline.PcItem("rename"),
		readline.PcItem("add", archetypes...),
		readline.PcItem("remove"),
		readline.PcItem("set"),
		readline.PcItem("get"),
		readline.PcItem("read"),
		readline.PcItem("archetypes"),
		readline.PcItem("ports"),
		readline.PcItem("reset"),
		readline.PcItem("quit"),
	)
}
