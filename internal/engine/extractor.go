package engine

// Finding is one match of a loot rule.
type Finding struct {
	ID          int     `json:"id"`
	Description *string `json:"description,omitempty"`
	RecordID    int64   `json:"record_id"`
	Match       string  `json:"match"`
	// Proof is the output of every command of the pass, in declaration
	// order, as it stood when the match was made. It is shared between the
	// findings of a pass and must not be modified.
	Proof []string `json:"-"`
}

// DescriptionText returns the description, or "" when none was declared.
func (f *Finding) DescriptionText() string {
	if f.Description == nil {
		return ""
	}
	return *f.Description
}

// Extraction holds the candidate findings of one pass and the bullet sets
// its matches asked to expand, both in the order they were produced.
type Extraction struct {
	Findings []Finding
	Targets  []string
}

// Extract applies every loot rule to the output of its command. Each rule
// searches for its first leftmost match; a rule that does not match
// contributes nothing, and neither does one whose match times out.
// Recursion targets are deduplicated, keeping the first registration order.
func Extract(pairs []Pair) Extraction {
	var ex Extraction
	seen := make(map[string]bool)

	outputs := make([]string, len(pairs))
	for i := range pairs {
		outputs[i] = pairs[i].Record.Output
	}

	for _, pair := range pairs {
		output := pair.Record.Output
		for i := range pair.Command.Loots {
			loot := &pair.Command.Loots[i]
			match, ok := loot.Find(output)
			if !ok {
				continue
			}

			if loot.HasRecursion() && !seen[loot.Execute] {
				seen[loot.Execute] = true
				ex.Targets = append(ex.Targets, loot.Execute)
			}

			for _, result := range loot.Results {
				f := Finding{
					ID:       result.ID,
					RecordID: pair.Record.ID,
					Match:    match,
					Proof:    outputs,
				}
				if desc, ok := result.DescriptionText(); ok {
					f.Description = &desc
				}
				ex.Findings = append(ex.Findings, f)
			}
		}
	}

	return ex
}
