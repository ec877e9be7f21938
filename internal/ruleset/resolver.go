package ruleset

import "strings"

// Recognised placeholder tokens.
const (
	TokenTarget   = "[target]"
	TokenPath     = "[path]"
	TokenSavePath = "[save_path]"
	TokenPlugins  = "[plugins]"
	TokenPort     = "[port]"
)

// Context carries the values substituted into command templates.
type Context struct {
	Target      string
	RulesPath   string
	ScratchDir  string
	PluginsPath string
	// Port is optional; [port] is only substituted when it is non-empty.
	Port string
}

// HasPort reports whether a port is set.
func (c Context) HasPort() bool {
	return c.Port != ""
}

// WithPort returns a copy of the context with the port replaced.
func (c Context) WithPort(port string) Context {
	c.Port = port
	return c
}

// Resolve substitutes every recognised placeholder in template. Unknown
// tokens, and [port] when no port is set, are left verbatim.
func Resolve(template string, ctx Context) string {
	out := template
	out = strings.ReplaceAll(out, TokenTarget, ctx.Target)
	out = strings.ReplaceAll(out, TokenPath, ctx.RulesPath)
	out = strings.ReplaceAll(out, TokenSavePath, ctx.ScratchDir)
	out = strings.ReplaceAll(out, TokenPlugins, ctx.PluginsPath)
	if ctx.HasPort() {
		out = strings.ReplaceAll(out, TokenPort, ctx.Port)
	}
	return out
}

// ShellQuote quotes s for safe interpolation into a POSIX shell command.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
