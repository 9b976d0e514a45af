package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"

	"github.com/luciancaetano/ddpbot"
)

// ErrUnknownCommand is returned by Parse for a name that is not visible to the parser.
var ErrUnknownCommand = errors.New("unknown command")

// Tokenize splits a command line shell-style. There is no comment syntax, so "#general" stays
// a token. Unbalanced quotes are an argument error.
func Tokenize(line string) ([]string, error) {
	tokens, err := shellquote.Split(line)
	if err != nil {
		return nil, &ddpbot.ArgumentError{Message: fmt.Sprintf("cannot parse command line: %v", err)}
	}
	return tokens, nil
}

// Invocation is a successfully parsed command line.
type Invocation struct {
	Command *Command
	Args    ddpbot.Args
}

// Parser parses one message against the commands visible in its room. It never exits the
// process; everything it would print is captured as output chunks.
type Parser struct {
	prefix   string
	commands []*Command
	byName   map[string]*Command
}

// NewParser creates a parser over visible, which keeps its order in the help listing.
func NewParser(prefix string, visible []*Command) *Parser {
	byName := make(map[string]*Command, len(visible))
	for _, c := range visible {
		byName[c.Spec.Name] = c
	}
	return &Parser{prefix: prefix, commands: visible, byName: byName}
}

// Lookup returns the visible command called name.
func (p *Parser) Lookup(name string) (*Command, bool) {
	c, ok := p.byName[name]
	return c, ok
}

// Help renders the listing of visible commands.
func (p *Parser) Help() []string {
	out := &chunkWriter{}
	root := p.root(out, nil)
	_ = root.Help()
	return out.chunks
}

// Parse parses tokens, whose first element is the command name. On failure the returned chunks
// hold the usage and error text and the error is an *ddpbot.ArgumentError.
func (p *Parser) Parse(tokens []string) (*Invocation, []string, error) {
	if len(tokens) == 0 {
		return nil, nil, &ddpbot.ArgumentError{Message: "empty command"}
	}
	cmd, ok := p.Lookup(tokens[0])
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownCommand, tokens[0])
	}

	out := &chunkWriter{}
	var parsed ddpbot.Args
	root := p.root(out, &parsed)
	root.SetArgs(tokens)

	if err := root.Execute(); err != nil {
		var argErr *ddpbot.ArgumentError
		if !errors.As(err, &argErr) {
			argErr = &ddpbot.ArgumentError{Message: err.Error()}
		}
		fmt.Fprintf(out, "%s%s: error: %s\n", p.prefix, cmd.Spec.Name, argErr.Message)
		return nil, out.chunks, argErr
	}

	return &Invocation{Command: cmd, Args: parsed}, out.chunks, nil
}

// root builds a fresh cobra tree for one parse. parsed receives the converted arguments of the
// command that ran.
func (p *Parser) root(out *chunkWriter, parsed *ddpbot.Args) *cobra.Command {
	root := &cobra.Command{
		Use:                   p.prefix,
		Short:                 "chat bot",
		SilenceErrors:         true,
		DisableFlagsInUseLine: true,
		CompletionOptions:     cobra.CompletionOptions{DisableDefaultCmd: true},
	}
	root.SetOut(out)
	root.SetErr(out)
	root.SetHelpFunc(func(c *cobra.Command, _ []string) {
		fmt.Fprint(c.OutOrStdout(), p.helpText())
	})

	for _, cmd := range p.commands {
		spec := cmd.Spec
		sub := &cobra.Command{
			Use:                   strings.TrimSpace(spec.Name + " " + argsUsage(spec.Args)),
			Short:                 spec.Help,
			DisableFlagParsing:    true,
			DisableFlagsInUseLine: true,
			Args:                  cobra.MatchAll(exactArgs(spec), typedArgs(spec, parsed)),
			RunE: func(*cobra.Command, []string) error {
				return nil
			},
		}
		sub.SetUsageFunc(func(c *cobra.Command) error {
			_, err := fmt.Fprintf(c.OutOrStderr(), "usage: %s", p.usageLine(spec))
			return err
		})
		root.AddCommand(sub)
	}
	return root
}

func (p *Parser) usageLine(spec ddpbot.CommandSpec) string {
	return strings.TrimSpace(p.prefix + spec.Name + " " + argsUsage(spec.Args))
}

func (p *Parser) helpText() string {
	if len(p.commands) == 0 {
		return "no commands available here\n"
	}
	var b strings.Builder
	for _, cmd := range p.commands {
		b.WriteString(p.usageLine(cmd.Spec))
		if cmd.Spec.Help != "" {
			b.WriteString(" - ")
			b.WriteString(cmd.Spec.Help)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func argsUsage(args []ddpbot.ArgSpec) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = "<" + a.Name + ">"
	}
	return strings.Join(parts, " ")
}

func exactArgs(spec ddpbot.CommandSpec) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		want := len(spec.Args)
		if len(args) == want {
			return nil
		}
		if len(args) < want {
			missing := make([]string, 0, want-len(args))
			for _, a := range spec.Args[len(args):] {
				missing = append(missing, a.Name)
			}
			return &ddpbot.ArgumentError{Message: "the following arguments are required: " + strings.Join(missing, ", ")}
		}
		return &ddpbot.ArgumentError{Message: "unrecognized arguments: " + strings.Join(args[want:], " ")}
	}
}

func typedArgs(spec ddpbot.CommandSpec, parsed *ddpbot.Args) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		values := make(ddpbot.Args, len(spec.Args))
		for i, a := range spec.Args {
			v, err := a.Type.Convert(args[i])
			if err != nil {
				return &ddpbot.ArgumentError{
					Message: fmt.Sprintf("argument %s: invalid %s value: '%s'", a.Name, a.Type, args[i]),
				}
			}
			values[a.Name] = v
		}
		if parsed != nil {
			*parsed = values
		}
		return nil
	}
}

// chunkWriter records every write as a separate chunk.
type chunkWriter struct {
	chunks []string
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		w.chunks = append(w.chunks, string(p))
	}
	return len(p), nil
}
