package remote

import (
	"net/http/httptest"
	"testing"

	_ "github.com/hangarstor/hangar/backend/memory"
	"github.com/hangarstor/hangar/checkout"
	"github.com/hangarstor/hangar/config"
	"github.com/hangarstor/hangar/digest"
	"github.com/hangarstor/hangar/errs/errcode"
	"github.com/hangarstor/hangar/refblob"
	"github.com/hangarstor/hangar/samplekey"
	"github.com/hangarstor/hangar/schema"
)

func newTestServer(t *testing.T, cfg config.Server) (*Client, *checkout.Repository) {
	t.Helper()
	repo, err := checkout.Open(t.TempDir())
	if err != nil {
		t.Fatalf("checkout.Open: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	srv := NewServer(repo, cfg, nil)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	return NewClient(ts.URL, ts.Client()), repo
}

func testSchema() schema.Schema {
	return schema.Schema{DType: schema.DTypeFloat32, MaxShape: []int64{2}, DefaultBackend: "20"}
}

func TestPingAndClientConfig(t *testing.T) {
	client, _ := newTestServer(t, config.Server{PushMaxNBytes: 1 << 20})

	if err := client.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	cfg, err := client.GetClientConfig()
	if err != nil {
		t.Fatalf("GetClientConfig: %v", err)
	}
	if cfg.PushMaxNBytes != 1<<20 {
		t.Fatalf("PushMaxNBytes = %d, want %d", cfg.PushMaxNBytes, 1<<20)
	}
}

func TestBranchRecordRoundTrip(t *testing.T) {
	client, _ := newTestServer(t, config.Server{PushMaxNBytes: 1 << 20})

	root := refblob.CommitDigest(nil, refblob.Spec{Message: "init"}, refblob.RefBlob{})
	if err := client.PushCommit(root, nil, refblob.Spec{Message: "init"}, refblob.RefBlob{}); err != nil {
		t.Fatalf("PushCommit: %v", err)
	}
	if err := client.PushBranchRecord("master", root); err != nil {
		t.Fatalf("PushBranchRecord create: %v", err)
	}

	rec, err := client.FetchBranchRecord("master")
	if err != nil {
		t.Fatalf("FetchBranchRecord: %v", err)
	}
	if rec.Head != root {
		t.Fatalf("head = %s, want %s", rec.Head, root)
	}
}

func TestFetchBranchRecordMissingIsNotFound(t *testing.T) {
	client, _ := newTestServer(t, config.Server{PushMaxNBytes: 1 << 20})

	_, err := client.FetchBranchRecord("nope")
	if err == nil {
		t.Fatalf("expected error for missing branch")
	}
	apiErr, ok := err.(errcode.Error)
	if !ok {
		t.Fatalf("expected errcode.Error, got %T: %v", err, err)
	}
	if apiErr.Code != errcode.ErrorCodeNotFound {
		t.Fatalf("code = %v, want NotFound", apiErr.Code)
	}
}

func TestCommitRoundTrip(t *testing.T) {
	client, _ := newTestServer(t, config.Server{PushMaxNBytes: 1 << 20})

	blob := refblob.RefBlob{
		Arraysets: []refblob.ArraysetRecord{
			{
				Name:         "vectors",
				SchemaDigest: testSchema().Digest(),
				Samples:      []refblob.Sample{{Key: samplekey.Int(0), Digest: digest.FromCanonicalBytes(digest.KindBytes, []byte("x"))}},
			},
		},
	}
	spec := refblob.Spec{Author: "alice", Message: "add vectors", Timestamp: 100}
	d := refblob.CommitDigest(nil, spec, blob)

	if err := client.PushCommit(d, nil, spec, blob); err != nil {
		t.Fatalf("PushCommit: %v", err)
	}

	parents, gotSpec, gotBlob, err := client.FetchCommit(d)
	if err != nil {
		t.Fatalf("FetchCommit: %v", err)
	}
	if len(parents) != 0 {
		t.Fatalf("parents = %v, want empty", parents)
	}
	if gotSpec.Author != "alice" || gotSpec.Message != "add vectors" {
		t.Fatalf("spec mismatch: %+v", gotSpec)
	}
	if len(gotBlob.Arraysets) != 1 || gotBlob.Arraysets[0].Name != "vectors" {
		t.Fatalf("blob mismatch: %+v", gotBlob)
	}
}

func TestSchemaRoundTrip(t *testing.T) {
	client, _ := newTestServer(t, config.Server{PushMaxNBytes: 1 << 20})

	sch := testSchema()
	d, err := client.PushSchema(sch)
	if err != nil {
		t.Fatalf("PushSchema: %v", err)
	}
	if d != sch.Digest() {
		t.Fatalf("digest = %s, want %s", d, sch.Digest())
	}

	got, err := client.FetchSchema(d)
	if err != nil {
		t.Fatalf("FetchSchema: %v", err)
	}
	if !got.Equal(sch) {
		t.Fatalf("schema mismatch: %+v vs %+v", got, sch)
	}
}

func TestPushDataOutsideContextFails(t *testing.T) {
	client, _ := newTestServer(t, config.Server{PushMaxNBytes: 1 << 20})

	d := digest.FromCanonicalBytes(digest.KindBytes, []byte("payload"))
	_, err := client.PushData([]PushDataRecord{{Digest: d, BackendCode: "20", Payload: []byte("payload")}})
	if err == nil {
		t.Fatalf("expected FailedPrecondition outside push context")
	}
	apiErr, ok := err.(errcode.Error)
	if !ok || apiErr.Code != errcode.ErrorCodeFailedPrecondition {
		t.Fatalf("got %v, want FailedPrecondition", err)
	}
}

func TestPushDataRoundTripAndFetch(t *testing.T) {
	client, _ := newTestServer(t, config.Server{PushMaxNBytes: 1 << 20})

	payload := []byte("payload bytes")
	d := digest.FromCanonicalBytes(digest.KindBytes, payload)

	if err := client.PushBeginContext(); err != nil {
		t.Fatalf("PushBeginContext: %v", err)
	}
	result, err := client.PushData([]PushDataRecord{{Digest: d, BackendCode: "20", Payload: payload}})
	if err != nil {
		t.Fatalf("PushData: %v", err)
	}
	if len(result.Accepted) != 1 || result.Accepted[0] != d {
		t.Fatalf("accepted = %v, want [%s]", result.Accepted, d)
	}
	if result.Remaining != 0 {
		t.Fatalf("remaining = %d, want 0", result.Remaining)
	}
	if err := client.PushEndContext(); err != nil {
		t.Fatalf("PushEndContext: %v", err)
	}

	got, err := client.FetchData(d)
	if err != nil {
		t.Fatalf("FetchData: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("payload = %q, want %q", got, payload)
	}

	origins, err := client.FetchFindDataOrigin([]digest.Digest{d})
	if err != nil {
		t.Fatalf("FetchFindDataOrigin: %v", err)
	}
	if len(origins) != 1 || origins[0].BackendCode != "20" {
		t.Fatalf("origins = %+v", origins)
	}
}

func TestPushDataDigestMismatchAbortsBatch(t *testing.T) {
	client, _ := newTestServer(t, config.Server{PushMaxNBytes: 1 << 20})

	payload := []byte("payload bytes")
	wrongDigest := digest.FromCanonicalBytes(digest.KindBytes, []byte("different"))
	real := digest.FromCanonicalBytes(digest.KindBytes, []byte("also real"))

	if err := client.PushBeginContext(); err != nil {
		t.Fatalf("PushBeginContext: %v", err)
	}
	defer client.PushEndContext()

	_, err := client.PushData([]PushDataRecord{
		{Digest: real, BackendCode: "20", Payload: []byte("also real")},
		{Digest: wrongDigest, BackendCode: "20", Payload: payload},
	})
	if err == nil {
		t.Fatalf("expected DataLoss error")
	}
	apiErr, ok := err.(errcode.Error)
	if !ok || apiErr.Code != errcode.ErrorCodeDataLoss {
		t.Fatalf("got %v, want DataLoss", err)
	}

	if _, err := client.FetchData(real); err == nil {
		t.Fatalf("expected the whole batch, including the valid record, to be rejected")
	}
}

func TestPushDataTruncatesAtBudget(t *testing.T) {
	client, _ := newTestServer(t, config.Server{PushMaxNBytes: 8})

	a := digest.FromCanonicalBytes(digest.KindBytes, []byte("aaaaaaaaaa"))
	b := digest.FromCanonicalBytes(digest.KindBytes, []byte("bbbbbbbbbb"))

	if err := client.PushBeginContext(); err != nil {
		t.Fatalf("PushBeginContext: %v", err)
	}
	defer client.PushEndContext()

	result, err := client.PushData([]PushDataRecord{
		{Digest: a, BackendCode: "20", Payload: []byte("aaaaaaaaaa")},
		{Digest: b, BackendCode: "20", Payload: []byte("bbbbbbbbbb")},
	})
	if err != nil {
		t.Fatalf("PushData: %v", err)
	}
	if len(result.Accepted) != 0 {
		t.Fatalf("accepted = %v, want none admitted over an 8-byte budget", result.Accepted)
	}
	if result.Remaining == 0 {
		t.Fatalf("remaining = 0, want truncation reported")
	}
}

func TestPushBeginContextTwiceFails(t *testing.T) {
	client, _ := newTestServer(t, config.Server{PushMaxNBytes: 1 << 20})

	if err := client.PushBeginContext(); err != nil {
		t.Fatalf("PushBeginContext: %v", err)
	}
	defer client.PushEndContext()

	err := client.PushBeginContext()
	if err == nil {
		t.Fatalf("expected FailedPrecondition on nested begin")
	}
	apiErr, ok := err.(errcode.Error)
	if !ok || apiErr.Code != errcode.ErrorCodeFailedPrecondition {
		t.Fatalf("got %v, want FailedPrecondition", err)
	}
}

func TestRestrictedPushRequiresAuth(t *testing.T) {
	repo, err := checkout.Open(t.TempDir())
	if err != nil {
		t.Fatalf("checkout.Open: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	auth := func(user, pass string) bool { return user == "alice" && pass == "secret" }
	srv := NewServer(repo, config.Server{PushMaxNBytes: 1 << 20, RestrictPush: true}, auth)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	anon := NewClient(ts.URL, ts.Client())
	if err := anon.PushBranchRecord("master", "commit:sha256:x"); err == nil {
		t.Fatalf("expected PermissionDenied without credentials")
	}

	authed := NewClient(ts.URL, ts.Client())
	authed.Username, authed.Password = "alice", "secret"
	root := refblob.CommitDigest(nil, refblob.Spec{Message: "init"}, refblob.RefBlob{})
	if err := authed.PushCommit(root, nil, refblob.Spec{Message: "init"}, refblob.RefBlob{}); err != nil {
		t.Fatalf("PushCommit authed: %v", err)
	}
	if err := authed.PushBranchRecord("master", root); err != nil {
		t.Fatalf("PushBranchRecord authed: %v", err)
	}
}

func TestFindMissingSchemasAndHashRecords(t *testing.T) {
	client, _ := newTestServer(t, config.Server{PushMaxNBytes: 1 << 20})

	sch := testSchema()
	sampleDigest := digest.FromCanonicalBytes(digest.KindBytes, []byte("sample"))
	blob := refblob.RefBlob{
		Arraysets: []refblob.ArraysetRecord{
			{Name: "vectors", SchemaDigest: sch.Digest(), Samples: []refblob.Sample{{Key: samplekey.Int(0), Digest: sampleDigest}}},
		},
	}
	spec := refblob.Spec{Message: "init"}
	d := refblob.CommitDigest(nil, spec, blob)
	if err := client.PushCommit(d, nil, spec, blob); err != nil {
		t.Fatalf("PushCommit: %v", err)
	}

	schemas, err := client.FetchFindMissingSchemas([]digest.Digest{d})
	if err != nil {
		t.Fatalf("FetchFindMissingSchemas: %v", err)
	}
	if len(schemas) != 1 || schemas[0] != sch.Digest() {
		t.Fatalf("schemas = %v, want [%s]", schemas, sch.Digest())
	}

	hashes, err := client.FetchFindMissingHashRecords([]digest.Digest{d})
	if err != nil {
		t.Fatalf("FetchFindMissingHashRecords: %v", err)
	}
	if len(hashes) != 1 || hashes[0] != sampleDigest {
		t.Fatalf("hashes = %v, want [%s]", hashes, sampleDigest)
	}
}
