// Package bubblewrap builds argument lists for the Linux bubblewrap (bwrap)
// utility. Bind order is preserved: bwrap applies mounts in argument order,
// so a later bind over the same path wins.
package bubblewrap

import (
	"sort"
	"strings"

	"splitux/pkg/common"
)

// BindType represents the type of bind mount to perform.
type BindType = string

const (
	BIND         BindType = "--bind"
	BIND_TRY     BindType = "--bind-try"
	BIND_DEV     BindType = "--dev-bind"
	BIND_DEV_TRY BindType = "--dev-bind-try"
	BIND_RO      BindType = "--ro-bind"
	BIND_RO_TRY  BindType = "--ro-bind-try"

	PROC  BindType = "--proc"
	DEV   BindType = "--dev"
	TMPFS BindType = "--tmpfs"
	DIR   BindType = "--dir"
)

// Bubblewrap represents a pending sandbox configuration.
type Bubblewrap struct {
	flags  []string
	binds  []common.SandboxBind
	envs   map[string]string
	unsets []string
}

// Create initializes an empty configuration. The sandboxed process inherits
// the caller's environment; only explicit variables are set here.
func Create() *Bubblewrap {
	return &Bubblewrap{envs: make(map[string]string)}
}

func (b *Bubblewrap) AddFlag(flag string) {
	b.flags = append(b.flags, flag)
}

func (b *Bubblewrap) AddBind(typ BindType, path string) {
	b.binds = append(b.binds, common.SandboxBind{Source: path, Target: path, Type: typ})
}

func (b *Bubblewrap) AddMapBind(typ BindType, hostpath string, cavepath string) {
	b.binds = append(b.binds, common.SandboxBind{Source: hostpath, Target: cavepath, Type: typ})
}

func (b *Bubblewrap) AddVirtual(typ BindType, path string) {
	b.binds = append(b.binds, common.SandboxBind{Target: path, Type: typ})
}

func (b *Bubblewrap) SetEnv(name, value string) {
	b.envs[name] = value
}

func (b *Bubblewrap) UnsetEnv(name string) {
	b.unsets = append(b.unsets, name)
}

// AddEnvFirst prepends entry to a colon separated variable, removing any
// later duplicate of it.
func (b *Bubblewrap) AddEnvFirst(name string, entry string) {
	b.envs[name] = PrependEntry(b.envs[name], entry)
}

// PrependEntry puts entry at the front of a colon separated list. Empty
// items and later copies of entry are dropped.
func PrependEntry(list, entry string) string {
	newParts := []string{entry}
	for _, p := range strings.Split(list, ":") {
		if p != "" && p != entry {
			newParts = append(newParts, p)
		}
	}
	return strings.Join(newParts, ":")
}

// Args returns the bwrap arguments: flags, binds in insertion order, then
// environment assignments sorted by name.
func (b *Bubblewrap) Args() []string {
	args := []string{}
	args = append(args, b.flags...)
	for _, bind := range b.binds {
		args = append(args, bind.Args()...)
	}
	for _, k := range sortedKeys(b.envs) {
		args = append(args, "--setenv", k, b.envs[k])
	}
	for _, k := range b.unsets {
		args = append(args, "--unsetenv", k)
	}
	return args
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
