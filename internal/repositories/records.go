package repositories

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Record is one normalized document ready to be upserted
type Record struct {
	GUID string
	Name string
	Data map[string]any
}

// NewRecord flattens a normalized model into its JSON document form
func NewRecord(guid, name string, doc any) (Record, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return Record{}, fmt.Errorf("failed to marshal document %q: %w", name, err)
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return Record{}, fmt.Errorf("failed to unmarshal document %q: %w", name, err)
	}
	return Record{GUID: strings.TrimSpace(guid), Name: strings.TrimSpace(name), Data: data}, nil
}

// UpsertKey selects the match key: the GUID when present, otherwise the name.
// An empty result means the record cannot be stored.
func UpsertKey(guid, name string) string {
	if g := strings.TrimSpace(guid); g != "" {
		return "guid:" + g
	}
	if n := strings.TrimSpace(name); n != "" {
		return "name:" + n
	}
	return ""
}

// MergeRecords collapses records sharing an upsert key, in input order. Later
// fields overwrite earlier ones and omitted fields survive, the same outcome
// as applying each upsert in sequence. Records without any key are returned
// separately.
func MergeRecords(records []Record) (merged []Record, keyless []Record) {
	index := make(map[string]int, len(records))
	for _, r := range records {
		key := UpsertKey(r.GUID, r.Name)
		if key == "" {
			keyless = append(keyless, r)
			continue
		}
		if i, ok := index[key]; ok {
			existing := merged[i]
			existing.Data = MergeData(existing.Data, r.Data)
			if r.Name != "" {
				existing.Name = r.Name
			}
			merged[i] = existing
			continue
		}
		index[key] = len(merged)
		merged = append(merged, Record{GUID: r.GUID, Name: r.Name, Data: MergeData(nil, r.Data)})
	}
	return merged, keyless
}

// MergeData applies a shallow top-level merge, matching jsonb's || operator
func MergeData(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}
