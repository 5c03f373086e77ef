package smarthttp

import (
	"bytes"
	"context"
	"testing"

	"github.com/gitlake/gitlake/internal/blobstore"
	"github.com/gitlake/gitlake/internal/enginecache"
	"github.com/gitlake/gitlake/internal/gitobj"
	"github.com/gitlake/gitlake/internal/refstore"
)

func TestBuildAdvertisementEmptyRepoHasServiceBannerAndCapabilitiesLine(t *testing.T) {
	ctx := context.Background()
	refs := refstore.New(blobstore.NewMemoryBackend(), "repos/u/r.git")

	packets, err := BuildAdvertisement(ctx, refs, "repos/u/r.git", "git-upload-pack", nil)
	if err != nil {
		t.Fatalf("BuildAdvertisement: %v", err)
	}

	wantBanner := []byte("001e# service=git-upload-pack\n0000")
	if !bytes.HasPrefix(packets, wantBanner) {
		t.Fatalf("packets = %q, want prefix %q", packets, wantBanner)
	}

	rest := packets[len(wantBanner):]
	if !bytes.Contains(rest, []byte("capabilities^{}\x00")) {
		t.Fatalf("rest = %q, want a capabilities^{} line for an empty repo", rest)
	}
	if !bytes.HasSuffix(packets, []byte("0000")) {
		t.Fatalf("packets = %q, want trailing flush-pkt", packets)
	}
}

func TestBuildAdvertisementAdvertisesHeadFirst(t *testing.T) {
	ctx := context.Background()
	refs := refstore.New(blobstore.NewMemoryBackend(), "repos/u/r.git")

	oidMain := gitobj.OID("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	oidDev := gitobj.OID("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	if err := refs.WriteRef(ctx, "refs/heads/main", oidMain); err != nil {
		t.Fatalf("WriteRef main: %v", err)
	}
	if err := refs.WriteRef(ctx, "refs/heads/dev", oidDev); err != nil {
		t.Fatalf("WriteRef dev: %v", err)
	}
	if err := refs.WriteSymbolicRef(ctx, "HEAD", "refs/heads/main"); err != nil {
		t.Fatalf("WriteSymbolicRef: %v", err)
	}

	packets, err := BuildAdvertisement(ctx, refs, "repos/u/r.git", "git-upload-pack", nil)
	if err != nil {
		t.Fatalf("BuildAdvertisement: %v", err)
	}

	headLine := string(oidMain) + " HEAD\x00"
	idx := bytes.Index(packets, []byte(headLine))
	if idx < 0 {
		t.Fatalf("packets missing %q: %q", headLine, packets)
	}
	devLine := string(oidDev) + " refs/heads/dev\n"
	if bytes.Index(packets, []byte(devLine)) < idx {
		t.Fatalf("expected HEAD line to precede refs/heads/dev line")
	}
}

func TestBuildAdvertisementUsesCacheOnSecondCall(t *testing.T) {
	ctx := context.Background()
	refs := refstore.New(blobstore.NewMemoryBackend(), "repos/u/r.git")
	cache := enginecache.NewAdvertisementCache(enginecache.DefaultAdvertisementTTL)

	first, err := BuildAdvertisement(ctx, refs, "repos/u/r.git", "git-upload-pack", cache)
	if err != nil {
		t.Fatalf("BuildAdvertisement: %v", err)
	}

	if err := refs.WriteRef(ctx, "refs/heads/main", gitobj.OID("cccccccccccccccccccccccccccccccccccccccc")); err != nil {
		t.Fatalf("WriteRef: %v", err)
	}

	second, err := BuildAdvertisement(ctx, refs, "repos/u/r.git", "git-upload-pack", cache)
	if err != nil {
		t.Fatalf("BuildAdvertisement: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("expected the second call to be served from cache, ignoring the new ref")
	}

	cache.Invalidate("repos/u/r.git")

	third, err := BuildAdvertisement(ctx, refs, "repos/u/r.git", "git-upload-pack", cache)
	if err != nil {
		t.Fatalf("BuildAdvertisement: %v", err)
	}
	if bytes.Equal(first, third) {
		t.Fatal("expected Invalidate to force a fresh advertisement reflecting the new ref")
	}
}
