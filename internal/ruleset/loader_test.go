package ruleset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/loadout/internal/errors"
)

const httpYAML = `
- execute: "curl -sI http://[target]:[port]/"
  loots:
    - regex: "Server: Apache/2\\.2"
      execute: "apache-legacy"
      results:
        - id: 4
          description: "Outdated Apache. "
        - id: 9
    - regex: "X-Powered-By: PHP"
      results:
        - id: 4
          description: "PHP banner. "
- execute: "nikto -h [target] -o [save_path]/nikto.txt"
`

const legacyXML = `<?xml version="1.0"?>
<bullets>
  <bullet>
    <execute>
      nmap -p [port] --script ssl-enum-ciphers [target]
    </execute>
    <loots>
      <loot>
        <regex>SSLv3</regex>
        <execute>ssl-deep</execute>
        <results>
          <result>
            <id>12</id>
            <description>SSLv3 enabled. </description>
          </result>
        </results>
      </loot>
    </loots>
  </bullet>
  <bullet>
    <execute>sslscan [target]</execute>
  </bullet>
</bullets>`

func writeRule(t *testing.T, dir, file, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(body), 0o600))
}

func testContext() Context {
	return Context{
		Target:      "10.0.0.1",
		RulesPath:   "/opt/loadout/bullets/",
		ScratchDir:  "/tmp/scan-1",
		PluginsPath: "/opt/loadout/plugins/",
		Port:        "8080",
	}
}

func TestLoaderLoadYAML(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "http.yaml", httpYAML)

	set, err := NewLoader(dir).Load("http", testContext())
	require.NoError(t, err)

	assert.Equal(t, "http", set.Name)
	assert.Equal(t, filepath.Join(dir, "http.yaml"), set.Path)
	require.Equal(t, 2, set.Len())

	first := set.Commands[0]
	assert.Equal(t, "curl -sI http://[target]:[port]/", first.Template)
	assert.Equal(t, "curl -sI http://10.0.0.1:8080/", first.Resolved)
	require.Len(t, first.Loots, 2)
	assert.Equal(t, "apache-legacy", first.Loots[0].Execute)
	assert.True(t, first.Loots[0].HasRecursion())
	assert.False(t, first.Loots[1].HasRecursion())
	require.NotNil(t, first.Loots[0].Pattern())
	match, ok := first.Loots[0].Find("Server: Apache/2.2.15")
	assert.True(t, ok)
	assert.Equal(t, "Server: Apache/2.2", match)

	require.Len(t, first.Loots[0].Results, 2)
	desc, ok := first.Loots[0].Results[0].DescriptionText()
	assert.True(t, ok)
	assert.Equal(t, "Outdated Apache. ", desc)
	_, ok = first.Loots[0].Results[1].DescriptionText()
	assert.False(t, ok, "result without description must stay absent")

	second := set.Commands[1]
	assert.Equal(t, "nikto -h 10.0.0.1 -o /tmp/scan-1/nikto.txt", second.Resolved)
	assert.Empty(t, second.Loots, "missing loots block means no extraction rules")

	assert.Equal(t, 9, set.MaxID())
}

func TestLoaderLoadLegacyXML(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "ssl.xml", legacyXML)

	set, err := NewLoader(dir).Load("ssl", testContext().WithPort("443"))
	require.NoError(t, err)
	require.Equal(t, 2, set.Len())

	assert.Equal(t, "nmap -p 443 --script ssl-enum-ciphers 10.0.0.1", set.Commands[0].Resolved)
	require.Len(t, set.Commands[0].Loots, 1)
	loot := set.Commands[0].Loots[0]
	assert.Equal(t, "SSLv3", loot.Regex)
	assert.Equal(t, "ssl-deep", loot.Execute)
	require.Len(t, loot.Results, 1)
	assert.Equal(t, 12, loot.Results[0].ID)
	desc, ok := loot.Results[0].DescriptionText()
	assert.True(t, ok)
	assert.Equal(t, "SSLv3 enabled. ", desc)

	assert.Empty(t, set.Commands[1].Loots)
	assert.Equal(t, 12, set.MaxID())
}

func TestLoaderPrefersYAMLOverXML(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "ssl.xml", legacyXML)
	writeRule(t, dir, "ssl.yml", `- execute: "echo yml"`)

	set, err := NewLoader(dir).Load("ssl", Context{})
	require.NoError(t, err)
	require.Equal(t, 1, set.Len())
	assert.Equal(t, "echo yml", set.Commands[0].Resolved)
}

func TestLoaderIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "http.yaml", httpYAML)
	loader := NewLoader(dir)

	a, err := loader.Load("http", testContext())
	require.NoError(t, err)
	b, err := loader.Load("http", testContext())
	require.NoError(t, err)

	require.Equal(t, a.Len(), b.Len())
	for i := range a.Commands {
		assert.Equal(t, a.Commands[i].Template, b.Commands[i].Template)
		assert.Equal(t, a.Commands[i].Resolved, b.Commands[i].Resolved)
		require.Equal(t, len(a.Commands[i].Loots), len(b.Commands[i].Loots))
		for j := range a.Commands[i].Loots {
			assert.Equal(t, a.Commands[i].Loots[j].Regex, b.Commands[i].Loots[j].Regex)
			assert.Equal(t, a.Commands[i].Loots[j].Execute, b.Commands[i].Loots[j].Execute)
			assert.Equal(t, a.Commands[i].Loots[j].Results, b.Commands[i].Loots[j].Results)
		}
	}
}

func TestLoaderErrors(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "broken.yaml", "execute: [unterminated")
	writeRule(t, dir, "mapping.yaml", "execute: echo hi\n")
	writeRule(t, dir, "noexec.yaml", "- loots: []\n")
	writeRule(t, dir, "badregex.yaml", "- execute: echo\n  loots:\n    - regex: \"(unclosed\"\n")
	writeRule(t, dir, "noregex.yaml", "- execute: echo\n  loots:\n    - results:\n        - id: 1\n")
	writeRule(t, dir, "negative.yaml", "- execute: echo\n  loots:\n    - regex: x\n      results:\n        - id: -3\n")
	writeRule(t, dir, "broken.xml", "<bullets><bullet>")

	tests := []struct {
		name string
		set  string
		code errors.ErrorCode
	}{
		{"missing file", "nope", errors.CodeRuleSetNotFound},
		{"malformed yaml", "broken", errors.CodeRuleSetInvalid},
		{"yaml mapping instead of list", "mapping", errors.CodeRuleSetInvalid},
		{"command without execute", "noexec", errors.CodeRuleSetInvalid},
		{"uncompilable regex", "badregex", errors.CodeRuleSetInvalid},
		{"loot without regex", "noregex", errors.CodeRuleSetInvalid},
		{"negative result id", "negative", errors.CodeRuleSetInvalid},
		{"path traversal", "../etc/passwd", errors.CodeRuleSetInvalid},
		{"empty name", "", errors.CodeRuleSetInvalid},
	}

	loader := NewLoader(dir)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := loader.Load(tt.set, Context{})
			require.Error(t, err)
			assert.Nil(t, set)
			_, ok := errors.AsLoadError(err)
			assert.True(t, ok, "expected LoadError, got %T", err)
			assert.Equal(t, tt.code, errors.GetCode(err))
		})
	}
}

func TestLoaderMalformedXML(t *testing.T) {
	_, err := NewLoader(t.TempDir()).Parse("broken", []byte("<bullets><bullet>"), FormatXML)
	require.Error(t, err)
	assert.Equal(t, errors.CodeRuleSetInvalid, errors.GetCode(err))
}

func TestLoaderEmptyDocument(t *testing.T) {
	set, err := NewLoader(t.TempDir()).Parse("empty", []byte("\n"), FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, 0, set.Len())
	assert.Equal(t, -1, set.MaxID())
}
