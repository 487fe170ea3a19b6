package hostshell

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

var ErrUnknownCommand = errors.New("hostshell: unknown command")

const CommandCommitText = "commit_text"

// CommandFunc is a no-argument host command.
type CommandFunc func() error

// Commands is the registry of commands the frontend may invoke by name.
type Commands struct {
	mu   sync.RWMutex
	cmds map[string]CommandFunc
}

// NewCommands returns a registry holding the built-in commit_text command.
func NewCommands(log *zap.Logger) *Commands {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Commands{cmds: map[string]CommandFunc{}}
	c.Register(CommandCommitText, func() error {
		log.Info("commit_text invoked")
		return nil
	})
	return c
}

func (c *Commands) Register(name string, fn CommandFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cmds[name] = fn
}

func (c *Commands) Invoke(name string) error {
	c.mu.RLock()
	fn, ok := c.cmds[name]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	return fn()
}

func (c *Commands) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.cmds))
	for name := range c.cmds {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
