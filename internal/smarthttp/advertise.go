package smarthttp

import (
	"context"
	"fmt"
	"strings"

	"github.com/gitlake/gitlake/internal/enginecache"
	"github.com/gitlake/gitlake/internal/refstore"
)

const emptyRepoCapabilitiesLine = "0000000000000000000000000000000000000000 capabilities^{}\x00"

// capabilitiesFor returns the capability set the original advertises per
// service: upload-pack additionally claims ofs-delta/shallow/no-progress/
// include-tag and pins HEAD's symref target; receive-pack claims
// report-status/delete-refs/ofs-delta. Neither side advertises multi_ack,
// side-band-64k, or any other capability this engine does not implement.
func capabilitiesFor(service string) []string {
	if service == "git-upload-pack" {
		return []string{"ofs-delta", "shallow", "no-progress", "include-tag", "symref=HEAD:refs/heads/main"}
	}
	return []string{"report-status", "delete-refs", "ofs-delta"}
}

// BuildAdvertisement renders the full info/refs response body for service
// (either "git-upload-pack" or "git-receive-pack"): the "# service=..."
// banner line, a flush, then the capability-advertisement lines, consulting
// cache first and populating it on a miss.
func BuildAdvertisement(ctx context.Context, refs *refstore.Store, repoPrefix, service string, cache *enginecache.AdvertisementCache) ([]byte, error) {
	if cache != nil {
		if packets, ok := cache.Get(repoPrefix, service); ok {
			return packets, nil
		}
	}

	capabilities := strings.Join(capabilitiesFor(service), " ")

	var allRefs []refstore.Ref
	heads, err := refs.ListRefs(ctx, "refs/heads")
	if err != nil {
		return nil, err
	}
	allRefs = append(allRefs, heads...)

	tags, err := refs.ListRefs(ctx, "refs/tags")
	if err != nil {
		return nil, err
	}
	allRefs = append(allRefs, tags...)

	head, haveHead, err := refs.ResolveRef(ctx, "HEAD")
	if err != nil {
		return nil, err
	}

	var lines []string
	if len(allRefs) == 0 {
		lines = append(lines, fmt.Sprintf("%s%s\n", emptyRepoCapabilitiesLine, capabilities))
	} else {
		firstName, firstOID := allRefs[0].Name, allRefs[0].OID
		if haveHead {
			firstName, firstOID = "HEAD", head
		}
		lines = append(lines, fmt.Sprintf("%s %s\x00%s\n", firstOID, firstName, capabilities))

		for _, r := range allRefs {
			if r.Name == firstName && haveHead {
				continue
			}
			lines = append(lines, fmt.Sprintf("%s %s\n", r.OID, r.Name))
		}
	}

	packets := append(encodeLine(fmt.Sprintf("# service=%s\n", service)), flushPkt()...)
	for _, line := range lines {
		packets = append(packets, encodeLine(line)...)
	}
	packets = append(packets, flushPkt()...)

	if cache != nil {
		cache.Put(repoPrefix, service, packets)
	}
	return packets, nil
}
