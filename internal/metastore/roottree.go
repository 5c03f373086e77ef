package metastore

import (
	"encoding/json"

	"github.com/gitlake/gitlake/internal/branchmeta"
	"github.com/gitlake/gitlake/internal/gitobj"
)

type rootTreeEntryJSON struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	OID  string `json:"oid"`
}

func marshalRootTree(entries []branchmeta.RootTreeEntry) (string, error) {
	out := make([]rootTreeEntryJSON, len(entries))
	for i, e := range entries {
		out[i] = rootTreeEntryJSON{Name: e.Name, Kind: e.Kind, OID: string(e.OID)}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalRootTree(data string) ([]branchmeta.RootTreeEntry, error) {
	if data == "" {
		return nil, nil
	}
	var in []rootTreeEntryJSON
	if err := json.Unmarshal([]byte(data), &in); err != nil {
		return nil, err
	}
	entries := make([]branchmeta.RootTreeEntry, len(in))
	for i, e := range in {
		entries[i] = branchmeta.RootTreeEntry{Name: e.Name, Kind: e.Kind, OID: gitobj.OID(e.OID)}
	}
	return entries, nil
}
