package target

import (
	"errors"
	"fmt"
)

// ErrUnknownCommand is returned by RunCommand for names no driver registered.
var ErrUnknownCommand = errors.New("unknown command")

// CommandHandler runs a driver command. It reports success to the dispatcher.
type CommandHandler func(t *Target, args []string) bool

// Command is an operator-invokable driver action.
type Command struct {
	Name    string
	Handler CommandHandler
	Help    string
}

// CommandGroup is the set of commands one driver registered.
type CommandGroup struct {
	Name     string
	Commands []Command
}

// AddCommands registers cmds under the group name.
func (t *Target) AddCommands(group string, cmds []Command) {
	t.commands = append(t.commands, CommandGroup{
		Name:     group,
		Commands: append([]Command(nil), cmds...),
	})
}

// Commands returns the registered command groups in registration order.
func (t *Target) Commands() []CommandGroup {
	return append([]CommandGroup(nil), t.commands...)
}

// RunCommand looks up a command by name and runs it.
func (t *Target) RunCommand(name string, args ...string) (bool, error) {
	for _, g := range t.commands {
		for _, c := range g.Commands {
			if c.Name == name {
				t.log.Debug("running command", "group", g.Name, "command", name)
				return c.Handler(t, args), nil
			}
		}
	}
	return false, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
}
