package engine

// FindingTable is the deduplicated view of one pass, indexed by finding id.
// Entries[id] is nil when no finding with that id matched.
type FindingTable struct {
	BulletSet string     `json:"bullet_set"`
	Port      string     `json:"port,omitempty"`
	Entries   []*Finding `json:"entries"`
}

// NewFindingTable creates a table with room for ids 0 through maxID.
func NewFindingTable(bulletSet, port string, maxID int) *FindingTable {
	size := maxID + 1
	if size < 0 {
		size = 0
	}
	return &FindingTable{
		BulletSet: bulletSet,
		Port:      port,
		Entries:   make([]*Finding, size),
	}
}

// Add merges f into the table. The first finding for an id keeps its record
// id, match and proof; later ones only append their description, if any.
// Ids past the end of the table grow it.
func (t *FindingTable) Add(f Finding) {
	if f.ID < 0 {
		return
	}
	for f.ID >= len(t.Entries) {
		t.Entries = append(t.Entries, nil)
	}

	existing := t.Entries[f.ID]
	if existing == nil {
		entry := f
		if f.Description != nil {
			desc := *f.Description
			entry.Description = &desc
		}
		t.Entries[f.ID] = &entry
		return
	}

	if f.Description == nil {
		return
	}
	merged := existing.DescriptionText() + *f.Description
	existing.Description = &merged
}

// Get returns the entry for id, or nil.
func (t *FindingTable) Get(id int) *Finding {
	if id < 0 || id >= len(t.Entries) {
		return nil
	}
	return t.Entries[id]
}

// Findings returns the present entries in id order.
func (t *FindingTable) Findings() []*Finding {
	var out []*Finding
	for _, entry := range t.Entries {
		if entry != nil {
			out = append(out, entry)
		}
	}
	return out
}

// Count returns the number of present entries.
func (t *FindingTable) Count() int {
	n := 0
	for _, entry := range t.Entries {
		if entry != nil {
			n++
		}
	}
	return n
}

// Aggregate merges findings, in extraction order, into a table presized for
// the largest id the bullet set declares.
func Aggregate(bulletSet, port string, maxID int, findings []Finding) *FindingTable {
	table := NewFindingTable(bulletSet, port, maxID)
	for _, f := range findings {
		table.Add(f)
	}
	return table
}
