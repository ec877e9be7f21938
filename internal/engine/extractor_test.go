package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/loadout/internal/ruleset"
	"github.com/anstrom/loadout/internal/store"
)

func strPtr(s string) *string { return &s }

func lootRule(t *testing.T, regex, execute string, results ...ruleset.ResultTemplate) ruleset.LootRule {
	t.Helper()
	rule := ruleset.LootRule{Regex: regex, Execute: execute, Results: results}
	require.NoError(t, rule.Compile())
	return rule
}

func pair(recordID int64, output string, loots ...ruleset.LootRule) Pair {
	return Pair{
		Command: ruleset.Command{Template: "tool", Resolved: "tool", Loots: loots},
		Record:  store.ExecutionRecord{ID: recordID, Command: "tool", Output: output},
	}
}

func TestExtract_FirstLeftmostMatch(t *testing.T) {
	ex := Extract([]Pair{
		pair(4, "22/tcp open ssh\n80/tcp open http\n",
			lootRule(t, `\d+/tcp open`, "", ruleset.ResultTemplate{ID: 1, Description: strPtr("port open")})),
	})

	require.Len(t, ex.Findings, 1)
	f := ex.Findings[0]
	assert.Equal(t, 1, f.ID)
	assert.Equal(t, "22/tcp open", f.Match)
	assert.Equal(t, int64(4), f.RecordID)
	assert.Equal(t, []string{"22/tcp open ssh\n80/tcp open http\n"}, f.Proof)
	assert.Equal(t, "port open", f.DescriptionText())
	assert.Empty(t, ex.Targets)
}

func TestExtract_RulesAreIndependent(t *testing.T) {
	ex := Extract([]Pair{
		pair(1, "Server: nginx\nX-Powered-By: PHP/5.4",
			lootRule(t, "nginx", "http-nginx", ruleset.ResultTemplate{ID: 2}),
			lootRule(t, "PHP/[0-9.]+", "", ruleset.ResultTemplate{ID: 3}, ruleset.ResultTemplate{ID: 4, Description: strPtr("old php")}),
			lootRule(t, "Apache", "http-apache", ruleset.ResultTemplate{ID: 5}),
		),
	})

	ids := make([]int, 0, len(ex.Findings))
	for _, f := range ex.Findings {
		ids = append(ids, f.ID)
	}
	assert.Equal(t, []int{2, 3, 4}, ids)
	assert.Equal(t, "PHP/5.4", ex.Findings[1].Match)
	assert.Nil(t, ex.Findings[1].Description)
	assert.Equal(t, []string{"http-nginx"}, ex.Targets)
}

func TestExtract_ProofHoldsEveryOutputOfThePass(t *testing.T) {
	ex := Extract([]Pair{
		pair(1, "first output"),
		pair(2, "second output", lootRule(t, "second", "", ruleset.ResultTemplate{ID: 1})),
	})

	require.Len(t, ex.Findings, 1)
	assert.Equal(t, int64(2), ex.Findings[0].RecordID)
	assert.Equal(t, []string{"first output", "second output"}, ex.Findings[0].Proof)
}

func TestExtract_RecursionTargetsDeduplicated(t *testing.T) {
	ex := Extract([]Pair{
		pair(1, "443/tcp open https",
			lootRule(t, "443", "svc-443"),
			lootRule(t, "https", "svc-443"),
			lootRule(t, "tcp", "ssl"),
		),
		pair(2, "ssl handshake ok", lootRule(t, "ssl", "svc-443")),
	})

	assert.Equal(t, []string{"svc-443", "ssl"}, ex.Targets)
	assert.Empty(t, ex.Findings, "rules without results produce no findings")
}

func TestExtract_NoMatchNoOutput(t *testing.T) {
	ex := Extract([]Pair{
		pair(1, "", lootRule(t, "anything", "next", ruleset.ResultTemplate{ID: 1})),
		pair(2, "clean", lootRule(t, "^dirty$", "next", ruleset.ResultTemplate{ID: 1})),
	})
	assert.Empty(t, ex.Findings)
	assert.Empty(t, ex.Targets)
}

func TestExtract_Lookaround(t *testing.T) {
	ex := Extract([]Pair{
		pair(1, "X-Powered-By: PHP/7.4\nX-Powered-By: PHP/5.6",
			lootRule(t, `PHP/(?=5\.)[0-9.]+`, "", ruleset.ResultTemplate{ID: 7}),
			lootRule(t, `(\w+)-\1`, "", ruleset.ResultTemplate{ID: 8}),
		),
	})

	require.Len(t, ex.Findings, 1)
	assert.Equal(t, 7, ex.Findings[0].ID)
	assert.Equal(t, "PHP/5.6", ex.Findings[0].Match)
}

func TestExtract_UncompiledRuleIsIgnored(t *testing.T) {
	rule := ruleset.LootRule{Regex: "x", Results: []ruleset.ResultTemplate{{ID: 1}}}
	ex := Extract([]Pair{pair(1, "x", rule)})
	assert.Empty(t, ex.Findings)
}

func TestAggregate_ConcatenatesDescriptionsKeepsFirstProvenance(t *testing.T) {
	table := Aggregate("web", "80", 3, []Finding{
		{ID: 3, Description: strPtr("X"), RecordID: 10, Match: "first", Proof: []string{"out-a"}},
		{ID: 3, Description: strPtr("Y"), RecordID: 11, Match: "second", Proof: []string{"out-b"}},
	})

	entry := table.Get(3)
	require.NotNil(t, entry)
	assert.Equal(t, "XY", entry.DescriptionText())
	assert.Equal(t, int64(10), entry.RecordID)
	assert.Equal(t, "first", entry.Match)
	assert.Equal(t, []string{"out-a"}, entry.Proof)
	assert.Equal(t, 1, table.Count())
	assert.Equal(t, "web", table.BulletSet)
	assert.Equal(t, "80", table.Port)
}

func TestAggregate_AbsentDescriptions(t *testing.T) {
	tests := []struct {
		name     string
		first    *string
		second   *string
		wantNil  bool
		wantText string
	}{
		{name: "both absent", wantNil: true},
		{name: "later absent is a no-op", first: strPtr("X"), wantText: "X"},
		{name: "later present fills an absent one", second: strPtr("Y"), wantText: "Y"},
		{name: "empty string is present", first: strPtr(""), second: strPtr("Y"), wantText: "Y"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := Aggregate("s", "", 1, []Finding{
				{ID: 1, Description: tt.first, Match: "a"},
				{ID: 1, Description: tt.second, Match: "b"},
			})
			entry := table.Get(1)
			require.NotNil(t, entry)
			assert.Equal(t, "a", entry.Match)
			if tt.wantNil {
				assert.Nil(t, entry.Description)
				return
			}
			assert.Equal(t, tt.wantText, entry.DescriptionText())
		})
	}
}

func TestAggregate_Sizing(t *testing.T) {
	empty := Aggregate("s", "", 4, nil)
	assert.Len(t, empty.Entries, 5)
	assert.Equal(t, 0, empty.Count())
	assert.Empty(t, empty.Findings())

	noDeclared := Aggregate("s", "", -1, nil)
	assert.Empty(t, noDeclared.Entries)

	grown := Aggregate("s", "", -1, []Finding{{ID: 5, Match: "late"}, {ID: 2, Match: "early"}})
	assert.Len(t, grown.Entries, 6)
	require.NotNil(t, grown.Get(5))
	assert.Equal(t, "late", grown.Get(5).Match)
	assert.Nil(t, grown.Get(4))
	assert.Nil(t, grown.Get(99))

	findings := grown.Findings()
	require.Len(t, findings, 2)
	assert.Equal(t, 2, findings[0].ID)
	assert.Equal(t, 5, findings[1].ID)
}

func TestAggregate_DoesNotAliasInputDescription(t *testing.T) {
	desc := "X"
	input := []Finding{{ID: 0, Description: &desc}}
	table := Aggregate("s", "", 0, input)
	table.Add(Finding{ID: 0, Description: strPtr("Y")})

	assert.Equal(t, "X", desc)
	assert.Equal(t, "XY", table.Get(0).DescriptionText())
}
