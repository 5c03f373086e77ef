package smarthttp

import (
	"context"

	"github.com/gitlake/gitlake/internal/gitobj"
	"github.com/gitlake/gitlake/internal/objstore"
	"github.com/gitlake/gitlake/internal/packfile"
)

// HandleUploadPack negotiates want/have against body and returns the
// pkt-line-framed response: a single NAK line (no multi-ack) followed by a
// non-deltifying packfile containing every object reachable from the
// wanted commits that the client didn't already report having.
func HandleUploadPack(ctx context.Context, objects *objstore.Store, body []byte) ([]byte, error) {
	lines := parsePktLines(body)

	var wants, haves []gitobj.OID
	for _, line := range lines {
		switch {
		case len(line) >= 45 && line[:5] == "want ":
			wants = append(wants, gitobj.OID(line[5:45]))
		case len(line) >= 45 && line[:5] == "have ":
			haves = append(haves, gitobj.OID(line[5:45]))
		}
	}

	if len(wants) == 0 {
		return flushPkt(), nil
	}

	reachable, err := collectReachable(ctx, objects, wants)
	if err != nil {
		return nil, err
	}

	haveSet := make(map[gitobj.OID]bool, len(haves))
	for _, h := range haves {
		haveSet[h] = true
	}

	var needed []gitobj.OID
	for oid := range reachable {
		if !haveSet[oid] {
			needed = append(needed, oid)
		}
	}

	response := append([]byte{}, encodeLine("NAK\n")...)
	if len(needed) == 0 {
		return append(response, flushPkt()...), nil
	}

	envelopes := make([]gitobj.Envelope, 0, len(needed))
	for _, oid := range needed {
		env, err := objects.Get(ctx, oid)
		if err != nil {
			continue
		}
		envelopes = append(envelopes, env)
	}

	pack, _, err := packfile.Build(envelopes)
	if err != nil {
		return nil, err
	}
	return append(response, pack...), nil
}

// collectReachable performs a depth-first walk from wants over commit
// parents and tree/blob entries, matching collect_reachable_objects: a
// plain visited-set walk, no commit-graph shortcuts.
func collectReachable(ctx context.Context, objects *objstore.Store, wants []gitobj.OID) (map[gitobj.OID]bool, error) {
	visited := make(map[gitobj.OID]bool)
	stack := append([]gitobj.OID{}, wants...)

	for len(stack) > 0 {
		oid := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[oid] {
			continue
		}
		visited[oid] = true

		env, err := objects.Get(ctx, oid)
		if err != nil {
			continue
		}

		switch env.Type {
		case gitobj.TypeCommit:
			commit, ok := gitobj.ParseCommit(env.Payload)
			if !ok {
				continue
			}
			if commit.Tree != "" && !visited[commit.Tree] {
				stack = append(stack, commit.Tree)
			}
			for _, p := range commit.Parents {
				if !visited[p] {
					stack = append(stack, p)
				}
			}
		case gitobj.TypeTree:
			for _, entry := range gitobj.ParseTree(env.Payload) {
				if !visited[entry.OID] {
					stack = append(stack, entry.OID)
				}
			}
		}
	}
	return visited, nil
}
