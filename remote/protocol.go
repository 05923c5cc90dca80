package remote

import (
	"github.com/hangarstor/hangar/digest"
)

// ClientConfig is the server's advertised limits and defaults (§6
// "GetClientConfig ... push_max_nbytes, compression, optimization_target").
type ClientConfig struct {
	PushMaxNBytes    int64  `json:"push_max_nbytes"`
	CompressionCodec string `json:"compression_codec"`
	CompressionLevel int    `json:"compression_level"`
}

// BranchRecord is a branch name and the commit digest it points at (§6
// "FetchBranchRecord / PushBranchRecord").
type BranchRecord struct {
	Name string        `json:"name"`
	Head digest.Digest `json:"head"`
}

// DataOriginRequest lists digests the caller wants origin info for (§6
// "FetchFindDataOrigin ... for a list of digests, return origin info").
type DataOriginRequest struct {
	Digests []digest.Digest `json:"digests"`
}

// DataOrigin is one digest's resolved backend placement and options,
// advertised before the payload itself is streamed.
type DataOrigin struct {
	Digest         digest.Digest     `json:"digest"`
	BackendCode    string            `json:"backend_code"`
	BackendOptions map[string]string `json:"backend_options,omitempty"`
}

// DataOriginResponse answers a DataOriginRequest.
type DataOriginResponse struct {
	Origins []DataOrigin `json:"origins"`
}

// dataPushRecordHeader precedes one framed payload in a PushData batch,
// carrying the asserted digest and the backend selection needed to
// route the payload through the hash index (§4.4, §4.7 "the server
// verifies digest").
type dataPushRecordHeader struct {
	Digest         digest.Digest     `json:"digest"`
	BackendCode    string            `json:"backend_code"`
	BackendOptions map[string]string `json:"backend_options,omitempty"`
}

// PushDataBatchResult reports which digests were accepted from a batch
// and how many remain, per §4.7's "partial completion" contract: "If a
// batch would exceed the budget the server returns a truncated set and
// the client resubmits the remainder."
type PushDataBatchResult struct {
	Accepted  []digest.Digest `json:"accepted"`
	Remaining int             `json:"remaining"`
}

// CommitSet advertises every commit digest reachable from a branch's
// head (§4.7 phase 1: "exchange commit sets on a branch, derive missing").
// The receiving side computes its own missing set locally by set
// difference against what it already has.
type CommitSet struct {
	Commits []digest.Digest `json:"commits"`
}

// SchemaDigestSet advertises every schema digest referenced by a set of
// commits (§4.7 phase 2).
type SchemaDigestSet struct {
	Schemas []digest.Digest `json:"schemas"`
}

// HashRecordSet advertises every sample digest referenced by a set of
// commits (§4.7 phase 3).
type HashRecordSet struct {
	Hashes []digest.Digest `json:"hashes"`
}

// CommitDigestsRequest carries a list of commit digests whose referenced
// schema or sample digests the caller wants advertised (phases 2 and 3).
type CommitDigestsRequest struct {
	Commits []digest.Digest `json:"commits"`
}
