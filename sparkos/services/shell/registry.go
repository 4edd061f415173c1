package shell

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"sparkrt/sparkos/kernel"
)

// env is what a command runs with: the shell thread's context and an
// output stream bound to the console.
type env struct {
	c   *kernel.Context
	k   *kernel.Kernel
	out io.Writer
	s   *Service
}

func (e env) printf(format string, args ...any) {
	fmt.Fprintf(e.out, format, args...)
}

type cmdFunc func(e env, args []string) error

type command struct {
	Name    string
	Aliases []string
	Usage   string
	Desc    string
	MinArgs int
	Run     cmdFunc
}

// registry maps command names and aliases to commands, kept in
// registration order.
type registry struct {
	cmds  []command
	index map[string]int
}

func newRegistry() *registry {
	return &registry{index: make(map[string]int)}
}

func (r *registry) register(cmd command) error {
	cmd.Name = strings.TrimSpace(cmd.Name)
	switch {
	case cmd.Name == "":
		return errors.New("shell: command without a name")
	case cmd.Run == nil:
		return fmt.Errorf("shell: command %q has no handler", cmd.Name)
	}

	keys := []string{cmd.Name}
	for _, a := range cmd.Aliases {
		if a = strings.TrimSpace(a); a != "" {
			keys = append(keys, a)
		}
	}
	for _, key := range keys {
		if _, taken := r.index[key]; taken {
			return fmt.Errorf("shell: %q is already registered", key)
		}
	}

	r.cmds = append(r.cmds, cmd)
	for _, key := range keys {
		r.index[key] = len(r.cmds) - 1
	}
	return nil
}

func (r *registry) resolve(name string) (command, bool) {
	i, ok := r.index[strings.TrimSpace(name)]
	if !ok {
		return command{}, false
	}
	return r.cmds[i], true
}

// sorted returns the commands ordered by name.
func (r *registry) sorted() []command {
	out := append([]command(nil), r.cmds...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// matches returns the names and aliases starting with prefix.
func (r *registry) matches(prefix string) []string {
	if prefix = strings.TrimSpace(prefix); prefix == "" {
		return nil
	}
	var out []string
	for key := range r.index {
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}
