package symtab

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// snapshotEntry is one row of the YAML snapshot rendering of a table.
type snapshotEntry struct {
	Addr string `yaml:"addr"`
	Name string `yaml:"name"`
}

type snapshot struct {
	Symbols []snapshotEntry `yaml:"symbols"`
}

// Dump renders the table as a deterministic YAML document, one
// {addr, name} row per entry in address order. Dumping the same table
// twice yields byte-identical output, so snapshots captured once can be
// compared byte-for-byte against later runs.
func (t *CompactSymbolTable) Dump() ([]byte, error) {
	snap := snapshot{Symbols: make([]snapshotEntry, 0, t.Len())}
	for i := 0; i < t.Len(); i++ {
		snap.Symbols = append(snap.Symbols, snapshotEntry{
			Addr: fmt.Sprintf("0x%x", t.Addr[i]),
			Name: t.Name(i),
		})
	}
	out, err := yaml.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("symtab: rendering snapshot: %w", err)
	}
	return out, nil
}

// ParseSnapshot reconstructs a table from a YAML snapshot produced by
// Dump, for comparing a freshly computed table against a captured one.
func ParseSnapshot(data []byte) (*CompactSymbolTable, error) {
	var snap snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("symtab: parsing snapshot: %w", err)
	}
	entries := make([]SymbolEntry, 0, len(snap.Symbols))
	for _, s := range snap.Symbols {
		var addr uint32
		if _, err := fmt.Sscanf(s.Addr, "0x%x", &addr); err != nil {
			return nil, fmt.Errorf("symtab: snapshot address %q: %w", s.Addr, err)
		}
		entries = append(entries, SymbolEntry{Addr: addr, Name: s.Name})
	}
	return Build(entries), nil
}
