package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"go.uber.org/zap"

	"github.com/agrisage-cloud/knowd/internal/db/memory"
	"github.com/agrisage-cloud/knowd/internal/domain"
	domaccess "github.com/agrisage-cloud/knowd/internal/domain/access"
	domchunk "github.com/agrisage-cloud/knowd/internal/domain/chunk"
	domdoc "github.com/agrisage-cloud/knowd/internal/domain/document"
	"github.com/agrisage-cloud/knowd/internal/domain/org"
	"github.com/agrisage-cloud/knowd/internal/domain/search/result"
	chunkrepo "github.com/agrisage-cloud/knowd/internal/repository/chunk"
	dirrepo "github.com/agrisage-cloud/knowd/internal/repository/directory"
	docrepo "github.com/agrisage-cloud/knowd/internal/repository/document"
	accessuc "github.com/agrisage-cloud/knowd/internal/usecase/access"
)

const vectorDim = 4

type stubEmbedder struct {
	vec []float32
	err error
}

func (e *stubEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	if e.err != nil {
		return domain.EmbeddingResult{}, e.err
	}
	return domain.EmbeddingResult{Embedding: e.vec, TotalTokens: 1}, nil
}

type spyCollector struct {
	calls   int
	orgID   string
	setSize int
	matches []Match
}

func (c *spyCollector) Record(_ context.Context, orgID, _ string, setSize int, matches []Match) {
	c.calls++
	c.orgID = orgID
	c.setSize = setSize
	c.matches = matches
}

type fx struct {
	docs   *docrepo.Repo
	chunks *chunkrepo.Repo
	dir    *dirrepo.Repo
	emb    *stubEmbedder
	col    *spyCollector
	svc    *Service
}

func newFx(t *testing.T) *fx {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()

	docs := docrepo.New(store)
	if err := docs.EnsureIndex(ctx); err != nil {
		t.Fatalf("ensure document index: %v", err)
	}
	chunks := chunkrepo.New(store)
	if err := chunks.EnsureIndex(ctx, vectorDim); err != nil {
		t.Fatalf("ensure chunk index: %v", err)
	}
	dir := dirrepo.New(store)

	emb := &stubEmbedder{vec: []float32{1, 0, 0, 0}}
	col := &spyCollector{}
	resolver := accessuc.New(dir, docs)
	svc := New(resolver, chunks, docs, emb, col, Options{}, zap.NewNop())

	return &fx{docs: docs, chunks: chunks, dir: dir, emb: emb, col: col, svc: svc}
}

func (f *fx) addOrg(t *testing.T, id string) {
	t.Helper()
	o, err := org.New(id, "org "+id)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.dir.CreateOrganization(context.Background(), o); err != nil {
		t.Fatal(err)
	}
}

func (f *fx) addMember(t *testing.T, orgID, userID string) {
	t.Helper()
	m, err := org.NewMembership(orgID, userID, org.RoleViewer)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.dir.PutMembership(context.Background(), m); err != nil {
		t.Fatal(err)
	}
}

// addDoc creates a completed document with one indexed chunk.
func (f *fx) addDoc(t *testing.T, id, owner string, vis domdoc.Visibility, sharedOrgs, sharedUsers []string, vec []float32) {
	t.Helper()
	ctx := context.Background()

	doc, err := domdoc.New(id, owner, "uploader-"+owner, "ref-"+id, "text/plain", domdoc.VisibilityInternal)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.docs.Create(ctx, &doc); err != nil {
		t.Fatal(err)
	}
	if _, err := f.docs.Claim(ctx, id); err != nil {
		t.Fatal(err)
	}
	if err := f.docs.MarkCompleted(ctx, id, 1, "hash-"+id); err != nil {
		t.Fatal(err)
	}
	f.setSharing(t, id, vis, sharedOrgs, sharedUsers)

	c, err := domchunk.New(id, owner, 0, 0, "content of "+id)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.chunks.InsertBatch(ctx, []domchunk.Chunk{c.WithVector(vec)}); err != nil {
		t.Fatal(err)
	}
}

func (f *fx) setSharing(t *testing.T, id string, vis domdoc.Visibility, sharedOrgs, sharedUsers []string) {
	t.Helper()
	sharing, err := domdoc.NewSharing(vis, sharedOrgs, sharedUsers)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.docs.UpdateSharing(context.Background(), id, sharing); err != nil {
		t.Fatal(err)
	}
}

func (f *fx) retrieve(t *testing.T, userID, orgID string) []Match {
	t.Helper()
	matches, err := f.svc.Retrieve(context.Background(), "cover crops for sloped fields", userID, orgID, 10)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	return matches
}

func hasDoc(matches []Match, id string) bool {
	for _, m := range matches {
		if m.DocumentID == id {
			return true
		}
	}
	return false
}

func TestRetrieve_InternalExcludedFromOtherOrg(t *testing.T) {
	f := newFx(t)
	f.addOrg(t, "org-a")
	f.addOrg(t, "org-b")
	f.addMember(t, "org-a", "user-a")
	f.addMember(t, "org-b", "user-b")
	f.addDoc(t, "doc-x", "org-a", domdoc.VisibilityInternal, nil, nil, []float32{1, 0, 0, 0})

	if matches := f.retrieve(t, "user-a", "org-a"); !hasDoc(matches, "doc-x") {
		t.Fatal("owner must see its internal document")
	}
	if matches := f.retrieve(t, "user-b", "org-b"); hasDoc(matches, "doc-x") {
		t.Fatal("internal document leaked to another organization")
	}
}

func TestRetrieve_SharingGrantAndRevocation(t *testing.T) {
	f := newFx(t)
	f.addOrg(t, "org-a")
	f.addOrg(t, "org-b")
	f.addMember(t, "org-a", "user-a")
	f.addMember(t, "org-b", "user-b")
	f.addDoc(t, "doc-x", "org-a", domdoc.VisibilityInternal, nil, nil, []float32{1, 0, 0, 0})

	// Grant: the very next query sees the document.
	f.setSharing(t, "doc-x", domdoc.VisibilityShared, []string{"org-b"}, nil)
	if matches := f.retrieve(t, "user-b", "org-b"); !hasDoc(matches, "doc-x") {
		t.Fatal("shared document must be visible to the grantee organization")
	}

	// Revocation: no caching, the next query already excludes it.
	f.setSharing(t, "doc-x", domdoc.VisibilityInternal, nil, nil)
	if matches := f.retrieve(t, "user-b", "org-b"); hasDoc(matches, "doc-x") {
		t.Fatal("revoked document still visible")
	}
}

func TestRetrieve_PublicVisibleAcrossOrgs(t *testing.T) {
	f := newFx(t)
	f.addOrg(t, "org-a")
	f.addOrg(t, "org-b")
	f.addMember(t, "org-b", "user-b")
	f.addDoc(t, "doc-z", "org-a", domdoc.VisibilityPublic, nil, nil, []float32{1, 0, 0, 0})

	if matches := f.retrieve(t, "user-b", "org-b"); !hasDoc(matches, "doc-z") {
		t.Fatal("public document must be visible regardless of membership")
	}
}

func TestRetrieve_UserLevelShare(t *testing.T) {
	f := newFx(t)
	f.addOrg(t, "org-a")
	f.addOrg(t, "org-b")
	f.addMember(t, "org-b", "user-b")
	f.addMember(t, "org-b", "user-other")
	f.addDoc(t, "doc-x", "org-a", domdoc.VisibilityShared, nil, []string{"user-b"}, []float32{1, 0, 0, 0})

	if matches := f.retrieve(t, "user-b", "org-b"); !hasDoc(matches, "doc-x") {
		t.Fatal("user-level share must reach the named user")
	}
	if matches := f.retrieve(t, "user-other", "org-b"); hasDoc(matches, "doc-x") {
		t.Fatal("user-level share leaked to an unrelated user of the same org")
	}
}

func TestRetrieve_EmptySetRecordsGap(t *testing.T) {
	f := newFx(t)
	f.addOrg(t, "org-a")
	// user-ghost is not a member anywhere.

	matches, err := f.svc.Retrieve(context.Background(), "anything", "user-ghost", "org-a", 5)
	if err != nil {
		t.Fatalf("no-access must not error: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected empty result, got %d", len(matches))
	}
	if f.col.calls != 1 || f.col.setSize != 0 || len(f.col.matches) != 0 {
		t.Fatalf("expected a gap record with empty set, got calls=%d setSize=%d", f.col.calls, f.col.setSize)
	}
}

func TestRetrieve_EmptyQueryRejected(t *testing.T) {
	f := newFx(t)
	_, err := f.svc.Retrieve(context.Background(), "   ", "user-a", "org-a", 5)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestRetrieve_OrderAndTieBreak(t *testing.T) {
	f := newFx(t)
	f.addOrg(t, "org-a")
	f.addMember(t, "org-a", "user-a")

	// doc-old and doc-new carry identical vectors; doc-far is off-axis.
	f.addDoc(t, "doc-old", "org-a", domdoc.VisibilityInternal, nil, nil, []float32{1, 0, 0, 0})
	f.addDoc(t, "doc-new", "org-a", domdoc.VisibilityInternal, nil, nil, []float32{1, 0, 0, 0})
	f.addDoc(t, "doc-far", "org-a", domdoc.VisibilityInternal, nil, nil, []float32{0, 1, 0, 0})

	matches := f.retrieve(t, "user-a", "org-a")
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}
	// doc-new was completed after doc-old, so it wins the score tie.
	if matches[0].DocumentID != "doc-new" || matches[1].DocumentID != "doc-old" {
		t.Fatalf("unexpected tie-break order: %s, %s", matches[0].DocumentID, matches[1].DocumentID)
	}
	if matches[2].DocumentID != "doc-far" {
		t.Fatalf("expected off-axis document last, got %s", matches[2].DocumentID)
	}
	if matches[0].Score < matches[2].Score {
		t.Fatal("scores must be descending")
	}
}

func TestRetrieve_TruncatesToK(t *testing.T) {
	f := newFx(t)
	f.addOrg(t, "org-a")
	f.addMember(t, "org-a", "user-a")
	for i := range 5 {
		f.addDoc(t, fmt.Sprintf("doc-%d", i), "org-a", domdoc.VisibilityInternal, nil, nil, []float32{1, 0, 0, 0})
	}

	matches, err := f.svc.Retrieve(context.Background(), "q", "user-a", "org-a", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
}

func TestRetrieve_CollectorSeesMatches(t *testing.T) {
	f := newFx(t)
	f.addOrg(t, "org-a")
	f.addMember(t, "org-a", "user-a")
	f.addDoc(t, "doc-x", "org-a", domdoc.VisibilityInternal, nil, nil, []float32{1, 0, 0, 0})

	f.retrieve(t, "user-a", "org-a")
	if f.col.calls != 1 || f.col.orgID != "org-a" {
		t.Fatalf("expected one record for org-a, got calls=%d org=%s", f.col.calls, f.col.orgID)
	}
	if f.col.setSize != 1 || len(f.col.matches) != 1 {
		t.Fatalf("unexpected record: setSize=%d matches=%d", f.col.setSize, len(f.col.matches))
	}
}

// TestRetrieve_NoLeakRandomized builds a random tenant population and checks
// every returned match against the domain access rule directly.
func TestRetrieve_NoLeakRandomized(t *testing.T) {
	f := newFx(t)
	rng := rand.New(rand.NewSource(42))

	orgs := []string{"org-0", "org-1", "org-2", "org-3"}
	users := make([]string, 0, len(orgs)*2)
	userOrg := make(map[string]string)
	for _, o := range orgs {
		f.addOrg(t, o)
		for j := range 2 {
			u := fmt.Sprintf("user-%s-%d", o, j)
			f.addMember(t, o, u)
			users = append(users, u)
			userOrg[u] = o
		}
	}

	visibilities := []domdoc.Visibility{
		domdoc.VisibilityInternal, domdoc.VisibilityShared, domdoc.VisibilityPublic,
	}
	for i := range 30 {
		owner := orgs[rng.Intn(len(orgs))]
		vis := visibilities[rng.Intn(len(visibilities))]
		var sharedOrgs, sharedUsers []string
		if vis == domdoc.VisibilityShared {
			if rng.Intn(2) == 0 {
				sharedOrgs = []string{orgs[rng.Intn(len(orgs))]}
			}
			if rng.Intn(2) == 0 {
				sharedUsers = []string{users[rng.Intn(len(users))]}
			}
		}
		vec := []float32{rng.Float32(), rng.Float32(), rng.Float32(), rng.Float32()}
		f.addDoc(t, fmt.Sprintf("doc-%02d", i), owner, vis, sharedOrgs, sharedUsers, vec)
	}

	for i := range 50 {
		u := users[rng.Intn(len(users))]
		o := userOrg[u]
		f.emb.vec = []float32{rng.Float32(), rng.Float32(), rng.Float32(), rng.Float32()}

		matches, err := f.svc.Retrieve(context.Background(), fmt.Sprintf("query %d", i), u, o, 20)
		if err != nil {
			t.Fatalf("Retrieve: %v", err)
		}
		for _, m := range matches {
			doc, err := f.docs.Get(context.Background(), m.DocumentID)
			if err != nil {
				t.Fatalf("Get %s: %v", m.DocumentID, err)
			}
			if !doc.AccessibleBy(u, o) {
				t.Fatalf("leak: %s returned to %s/%s (visibility=%s)", m.DocumentID, u, o, doc.Visibility())
			}
		}
	}
}

// --- Defense in depth against a rogue index ---

type stubResolver struct{ set domaccess.Set }

func (r *stubResolver) Resolve(_ context.Context, _, _ string) (domaccess.Set, error) {
	return r.set, nil
}

type rogueIndex struct{ hits []result.Result }

func (x *rogueIndex) SearchKNN(_ context.Context, _ []float32, _ domaccess.Set, _ int) ([]result.Result, error) {
	return x.hits, nil
}

type stubDocs struct{ docs []domdoc.Document }

func (d *stubDocs) GetMulti(_ context.Context, _ []string) ([]domdoc.Document, error) {
	return d.docs, nil
}

func TestRetrieve_DropsCandidatesOutsideSet(t *testing.T) {
	// The index misbehaves and returns a chunk whose document is not in
	// the resolved set. The re-check must drop it.
	hits := []result.Result{
		result.New("doc-evil", "org-b", 0, 0, 0.95, "leaked text"),
		result.New("doc-ok", "org-a", 0, 0, 0.9, "allowed text"),
	}
	docs := []domdoc.Document{
		domdoc.Reconstruct(domdoc.Fields{ID: "doc-ok", OwnerOrg: "org-a", State: domdoc.StateCompleted, UpdatedAt: 1}),
		domdoc.Reconstruct(domdoc.Fields{ID: "doc-evil", OwnerOrg: "org-b", State: domdoc.StateCompleted, UpdatedAt: 2}),
	}
	col := &spyCollector{}
	svc := New(
		&stubResolver{set: domaccess.NewSet("doc-ok")},
		&rogueIndex{hits: hits},
		&stubDocs{docs: docs},
		&stubEmbedder{vec: []float32{1, 0, 0, 0}},
		col, Options{}, zap.NewNop(),
	)

	matches, err := svc.Retrieve(context.Background(), "q", "user-a", "org-a", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(matches) != 1 || matches[0].DocumentID != "doc-ok" {
		t.Fatalf("expected only doc-ok, got %+v", matches)
	}
}

func TestRetrieve_SkipsNonCompletedJoin(t *testing.T) {
	// The document was reclaimed for reprocessing between the search and
	// the metadata join; it must not surface.
	hits := []result.Result{result.New("doc-a", "org-a", 0, 0, 0.9, "text")}
	docs := []domdoc.Document{
		domdoc.Reconstruct(domdoc.Fields{ID: "doc-a", OwnerOrg: "org-a", State: domdoc.StateProcessing}),
	}
	svc := New(
		&stubResolver{set: domaccess.NewSet("doc-a")},
		&rogueIndex{hits: hits},
		&stubDocs{docs: docs},
		&stubEmbedder{vec: []float32{1, 0, 0, 0}},
		&spyCollector{}, Options{}, zap.NewNop(),
	)

	matches, err := svc.Retrieve(context.Background(), "q", "user-a", "org-a", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected no matches, got %+v", matches)
	}
}
