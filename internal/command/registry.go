// Package command holds the command registry and the per-message argument parser built on it.
package command

import (
	"fmt"
	"strings"
	"sync"

	"github.com/luciancaetano/ddpbot"
)

// Command is a registered spec and its handler.
type Command struct {
	Spec    ddpbot.CommandSpec
	Handler ddpbot.CommandHandler
}

// Registry stores commands in registration order.
type Registry struct {
	mu       sync.RWMutex
	order    []*Command
	commands map[string]*Command
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]*Command)}
}

// Register adds a command. It fails on an empty or malformed name, the reserved help name, a
// duplicate name, malformed argument specs, or a nil handler.
func (r *Registry) Register(spec ddpbot.CommandSpec, handler ddpbot.CommandHandler) error {
	if err := validateName(spec.Name); err != nil {
		return err
	}
	if spec.Name == ddpbot.HelpCommand {
		return fmt.Errorf("%w: %s", ddpbot.ErrReservedCommand, spec.Name)
	}
	if handler == nil {
		return fmt.Errorf("%w: command %s", ddpbot.ErrNilHandler, spec.Name)
	}

	seen := make(map[string]bool, len(spec.Args))
	for _, a := range spec.Args {
		if a.Name == "" || seen[a.Name] {
			return fmt.Errorf("%w: command %s has an empty or repeated argument name", ddpbot.ErrInvalidCommand, spec.Name)
		}
		seen[a.Name] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.commands[spec.Name]; exists {
		return fmt.Errorf("%w: %s", ddpbot.ErrDuplicateCommand, spec.Name)
	}

	cmd := &Command{Spec: spec, Handler: handler}
	r.commands[spec.Name] = cmd
	r.order = append(r.order, cmd)
	return nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ddpbot.ErrInvalidCommand)
	}
	if strings.HasPrefix(name, "-") || strings.ContainsFunc(name, isSpace) {
		return fmt.Errorf("%w: %q", ddpbot.ErrInvalidCommand, name)
	}
	return nil
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// Lookup returns the command registered under name.
func (r *Registry) Lookup(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[name]
	return cmd, ok
}

// Visible returns the commands usable in roomID, in registration order.
func (r *Registry) Visible(roomID string) []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Command, 0, len(r.order))
	for _, cmd := range r.order {
		if cmd.Spec.VisibleIn(roomID) {
			out = append(out, cmd)
		}
	}
	return out
}

// All returns every command in registration order.
func (r *Registry) All() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Command, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered commands.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
