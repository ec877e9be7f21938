// Package ruleset loads bullet sets: named rule documents that declare which
// commands to run against a target and which patterns in their output
// identify a finding.
//
// A bullet set is an ordered list of commands. Each command carries loot
// rules; a loot rule is a regular expression, an optional follow-on bullet
// set to expand when it matches, and the result templates (finding id plus
// optional description) it produces. Command order is significant: the
// engine uses it to line captured output back up with the command that
// produced it.
package ruleset

import (
	"time"

	"github.com/dlclark/regexp2"
)

// MatchTimeout bounds a single loot rule match so a pathological pattern
// cannot stall a pass.
const MatchTimeout = 2 * time.Second

// ResultTemplate is a finding emitted when its loot rule matches.
type ResultTemplate struct {
	ID          int     `yaml:"id" xml:"id" validate:"gte=0"`
	Description *string `yaml:"description" xml:"description"`
}

// LootRule is a pattern searched for in a command's output.
type LootRule struct {
	Regex   string           `yaml:"regex" xml:"regex" validate:"required"`
	Execute string           `yaml:"execute" xml:"execute"`
	Results []ResultTemplate `yaml:"results" xml:"results>result" validate:"dive"`

	pattern *regexp2.Regexp
}

// Pattern returns the compiled regular expression of the rule.
func (r *LootRule) Pattern() *regexp2.Regexp {
	return r.pattern
}

// Compile compiles Regex with backtracking semantics, so lookarounds and
// backreferences in existing rule documents keep working. Rules loaded
// through a Loader are already compiled.
func (r *LootRule) Compile() error {
	pattern, err := regexp2.Compile(r.Regex, regexp2.None)
	if err != nil {
		return err
	}
	pattern.MatchTimeout = MatchTimeout
	r.pattern = pattern
	return nil
}

// Find returns the first leftmost match of the rule in output.
func (r *LootRule) Find(output string) (string, bool) {
	if r.pattern == nil {
		return "", false
	}
	m, err := r.pattern.FindStringMatch(output)
	if err != nil || m == nil {
		return "", false
	}
	return m.String(), true
}

// HasRecursion reports whether a match requests a follow-on bullet set.
func (r *LootRule) HasRecursion() bool {
	return r.Execute != ""
}

// Command is one external tool invocation.
type Command struct {
	// Template is the command text as written in the rule document.
	Template string     `yaml:"execute" xml:"execute" validate:"required"`
	Loots    []LootRule `yaml:"loots" xml:"loots>loot" validate:"dive"`

	// Resolved is Template with all known placeholders substituted.
	Resolved string `yaml:"-" xml:"-"`
}

// BulletSet is a parsed rule document.
type BulletSet struct {
	Name     string
	Path     string
	Commands []Command `validate:"dive"`
}

// Len returns the number of commands.
func (b *BulletSet) Len() int {
	return len(b.Commands)
}

// MaxID returns the largest result id declared anywhere in the set, or -1
// when the set declares no results.
func (b *BulletSet) MaxID() int {
	maxID := -1
	for i := range b.Commands {
		for j := range b.Commands[i].Loots {
			for _, result := range b.Commands[i].Loots[j].Results {
				if result.ID > maxID {
					maxID = result.ID
				}
			}
		}
	}
	return maxID
}

// DescriptionText returns the description and whether one was declared.
func (t ResultTemplate) DescriptionText() (string, bool) {
	if t.Description == nil {
		return "", false
	}
	return *t.Description, true
}
