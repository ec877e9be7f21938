package ruleset

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/loadout/internal/errors"
)

// Format identifies a rule document encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatXML  Format = "xml"
)

// extensions lists the file names tried for a bullet set, in order.
var extensions = []struct {
	ext    string
	format Format
}{
	{".yaml", FormatYAML},
	{".yml", FormatYAML},
	{".xml", FormatXML},
}

// Loader reads bullet sets from a directory of rule documents.
type Loader struct {
	dir      string
	validate *validator.Validate
}

// NewLoader creates a loader rooted at dir.
func NewLoader(dir string) *Loader {
	return &Loader{
		dir:      dir,
		validate: validator.New(),
	}
}

// Dir returns the directory the loader reads from.
func (l *Loader) Dir() string {
	return l.dir
}

// Load reads, parses and validates the named bullet set and resolves every
// command template against ctx. Any failure is returned as *errors.LoadError.
func (l *Loader) Load(name string, ctx Context) (*BulletSet, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	path, format, err := l.locate(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewLoadError(errors.CodeRuleSetNotFound, name, "rule document is unreadable", err)
	}

	set, err := l.Parse(name, data, format)
	if err != nil {
		return nil, err
	}
	set.Path = path

	for i := range set.Commands {
		set.Commands[i].Resolved = Resolve(set.Commands[i].Template, ctx)
	}

	return set, nil
}

// Parse decodes and validates a rule document without resolving placeholders.
func (l *Loader) Parse(name string, data []byte, format Format) (*BulletSet, error) {
	var commands []Command
	switch format {
	case FormatYAML:
		if len(bytes.TrimSpace(data)) > 0 {
			if err := yaml.Unmarshal(data, &commands); err != nil {
				return nil, errors.NewLoadError(errors.CodeRuleSetInvalid, name, "malformed YAML rule document", err)
			}
		}
	case FormatXML:
		var doc xmlDocument
		if err := xml.Unmarshal(data, &doc); err != nil {
			return nil, errors.NewLoadError(errors.CodeRuleSetInvalid, name, "malformed XML rule document", err)
		}
		commands = doc.Bullets
	default:
		return nil, errors.NewLoadError(errors.CodeRuleSetInvalid, name,
			fmt.Sprintf("unsupported rule document format %q", format), nil)
	}

	set := &BulletSet{Name: name, Commands: commands}
	normalize(set)

	if err := l.validate.Struct(set); err != nil {
		return nil, errors.NewLoadError(errors.CodeRuleSetInvalid, name, "rule document failed validation", err)
	}

	if err := compile(set); err != nil {
		return nil, errors.NewLoadError(errors.CodeRuleSetInvalid, name, "invalid loot pattern", err)
	}

	return set, nil
}

// xmlDocument is the legacy rule document layout. The root element name is
// not checked.
type xmlDocument struct {
	Bullets []Command `xml:"bullet"`
}

func (l *Loader) locate(name string) (string, Format, error) {
	for _, candidate := range extensions {
		path := filepath.Join(l.dir, name+candidate.ext)
		info, err := os.Stat(path)
		if err == nil && !info.IsDir() {
			return path, candidate.format, nil
		}
	}
	return "", "", errors.NewLoadError(errors.CodeRuleSetNotFound, name,
		"rule document not found", fmt.Errorf("no %s.{yaml,yml,xml} in %s", name, l.dir))
}

func checkName(name string) error {
	if name == "" {
		return errors.NewLoadError(errors.CodeRuleSetInvalid, name, "empty bullet set name", nil)
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return errors.NewLoadError(errors.CodeRuleSetInvalid, name, "bullet set name must not contain a path", nil)
	}
	return nil
}

// normalize trims the whitespace XML documents carry around text nodes.
func normalize(set *BulletSet) {
	for i := range set.Commands {
		cmd := &set.Commands[i]
		cmd.Template = strings.TrimSpace(cmd.Template)
		for j := range cmd.Loots {
			loot := &cmd.Loots[j]
			loot.Execute = strings.TrimSpace(loot.Execute)
		}
	}
}

func compile(set *BulletSet) error {
	for i := range set.Commands {
		for j := range set.Commands[i].Loots {
			if err := set.Commands[i].Loots[j].Compile(); err != nil {
				return fmt.Errorf("command %d loot %d: %w", i, j, err)
			}
		}
	}
	return nil
}
