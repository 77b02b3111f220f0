// Command typename encodes, decodes and inspects task names.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/kong"

	taskscope "github.com/goliatone/go-taskscope"
)

type cli struct {
	Encode EncodeCmd `cmd:"" help:"Build a closed generic name from a definition name and arguments."`
	Decode DecodeCmd `cmd:"" help:"Parse a task name and print its structure."`
	Open   OpenCmd   `cmd:"" help:"Print the open generic name a closed name is registered under."`
	Check  CheckCmd  `cmd:"" help:"Validate task names."`
	Config ConfigCmd `cmd:"" help:"Validate a worker configuration file."`
}

type EncodeCmd struct {
	Name string   `arg:"" help:"Generic definition name."`
	Args []string `arg:"" optional:"" help:"Type arguments, each itself a task name."`
	Open int      `help:"Encode an open generic definition of this arity instead." default:"0"`
}

func (c *EncodeCmd) Run(out io.Writer) error {
	if c.Open > 0 {
		if len(c.Args) > 0 {
			return fmt.Errorf("--open cannot be combined with type arguments")
		}
		t := taskscope.OpenGeneric(c.Name, c.Open)
		if err := t.Validate(); err != nil {
			return err
		}
		_, err := fmt.Fprintln(out, taskscope.Encode(t))
		return err
	}

	args := make([]taskscope.TypeName, 0, len(c.Args))
	for _, raw := range c.Args {
		arg, err := taskscope.Decode(raw)
		if err != nil {
			return err
		}
		args = append(args, arg)
	}
	t := taskscope.Generic(c.Name, args...)
	if err := t.Validate(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(out, taskscope.Encode(t))
	return err
}

type DecodeCmd struct {
	Name string `arg:"" help:"Task name to parse."`
	JSON bool   `help:"Print the parsed structure as JSON."`
}

type node struct {
	Name  string `json:"name"`
	Arity int    `json:"arity,omitempty"`
	Open  bool   `json:"open,omitempty"`
	Args  []node `json:"args,omitempty"`
}

func toNode(t taskscope.TypeName) node {
	n := node{Name: t.Name, Arity: t.Arity, Open: t.IsGenericDefinition()}
	for _, a := range t.Args {
		n.Args = append(n.Args, toNode(a))
	}
	return n
}

func (c *DecodeCmd) Run(out io.Writer) error {
	t, err := taskscope.Decode(c.Name)
	if err != nil {
		return err
	}
	if c.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(toNode(t))
	}
	printTree(out, t, 0)
	return nil
}

func printTree(out io.Writer, t taskscope.TypeName, depth int) {
	indent := strings.Repeat("  ", depth)
	switch {
	case t.IsGenericDefinition():
		fmt.Fprintf(out, "%s%s (open, arity %d)\n", indent, t.Name, t.Arity)
	case t.IsGeneric():
		fmt.Fprintf(out, "%s%s (arity %d)\n", indent, t.Name, t.Arity)
	default:
		fmt.Fprintf(out, "%s%s\n", indent, t.Name)
	}
	for _, a := range t.Args {
		printTree(out, a, depth+1)
	}
}

type OpenCmd struct {
	Name string `arg:"" help:"Closed generic task name."`
}

func (c *OpenCmd) Run(out io.Writer) error {
	open, ok := taskscope.TryGetOpenGenericName(c.Name)
	if !ok {
		return fmt.Errorf("%q is not a closed generic name", c.Name)
	}
	_, err := fmt.Fprintln(out, open)
	return err
}

type CheckCmd struct {
	Names []string `arg:"" help:"Task names to validate."`
}

func (c *CheckCmd) Run(out io.Writer) error {
	failed := 0
	for _, name := range c.Names {
		if _, err := taskscope.Decode(name); err != nil {
			failed++
			fmt.Fprintf(out, "invalid %s: %v\n", name, err)
			continue
		}
		fmt.Fprintf(out, "ok %s\n", name)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d names are invalid", failed, len(c.Names))
	}
	return nil
}

type ConfigCmd struct {
	Path string `arg:"" type:"existingfile" help:"YAML configuration file."`
}

func (c *ConfigCmd) Run(out io.Writer) error {
	cfg, err := taskscope.LoadConfig(c.Path)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "task_hub=%s dispose_timeout=%s replays=%d log=%s/%s metrics=%t\n",
		cfg.TaskHub, cfg.DisposeTimeout, cfg.Backend.Replays, cfg.Log.Level, cfg.Log.Format, cfg.Metrics.Enabled)
	return nil
}

func newParser(c *cli, out io.Writer, opts ...kong.Option) (*kong.Kong, error) {
	base := []kong.Option{
		kong.Name("typename"),
		kong.Description("Encode, decode and inspect task names."),
		kong.UsageOnError(),
		kong.BindTo(out, (*io.Writer)(nil)),
	}
	return kong.New(c, append(base, opts...)...)
}

func main() {
	var c cli
	parser, err := newParser(&c, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	ctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)
	parser.FatalIfErrorf(ctx.Run())
}
