// Package common provides small types shared by the launch components: the
// sandbox bind record and the host tool runner.
package common

// SandboxBind represents a filesystem mount or virtual filesystem in the sandbox.
type SandboxBind struct {
	Source string
	Target string
	Type   string // e.g., "--bind", "--ro-bind", "--tmpfs"
}

// Args renders the bind as bwrap arguments.
func (b SandboxBind) Args() []string {
	if b.Source == "" {
		return []string{b.Type, b.Target}
	}
	return []string{b.Type, b.Source, b.Target}
}
