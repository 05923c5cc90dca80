package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/hangarstor/hangar/digest"
	"github.com/hangarstor/hangar/errs/errcode"
	"github.com/hangarstor/hangar/refblob"
	"github.com/hangarstor/hangar/remote/wire"
	"github.com/hangarstor/hangar/schema"
)

// Client speaks the remote protocol (§4.7) against one server's base
// URL. Modeled on the teacher's registry/client: a thin wrapper around
// *http.Client with one method per RPC, decoding errcode.Error bodies on
// non-2xx responses.
type Client struct {
	baseURL string
	http    *http.Client

	Username string
	Password string
}

// NewClient returns a Client targeting baseURL (e.g.
// "http://hangar.example.com"), using httpClient if non-nil or
// http.DefaultClient otherwise.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

func (c *Client) url(format string, args ...any) string {
	return c.baseURL + fmt.Sprintf(format, args...)
}

func (c *Client) authenticate(req *http.Request) {
	if c.Username != "" {
		req.SetBasicAuth(c.Username, c.Password)
	}
}

func parseErrorResponse(resp *http.Response) error {
	var apiErr errcode.Error
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
		return fmt.Errorf("remote: request failed with status %d", resp.StatusCode)
	}
	return apiErr
}

func (c *Client) doJSON(method, path string, reqBody, respBody any) error {
	var body io.Reader
	if reqBody != nil {
		raw, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.url("%s", path), body)
	if err != nil {
		return err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authenticate(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return parseErrorResponse(resp)
	}
	if respBody == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(respBody)
}

// Ping checks the server is reachable (§6 "Ping").
func (c *Client) Ping() error {
	return c.doJSON(http.MethodGet, "/v1/ping", nil, nil)
}

// GetClientConfig fetches the server's advertised limits and defaults.
func (c *Client) GetClientConfig() (ClientConfig, error) {
	var cfg ClientConfig
	err := c.doJSON(http.MethodGet, "/v1/client-config", nil, &cfg)
	return cfg, err
}

// FetchBranchRecord resolves name's head on the server.
func (c *Client) FetchBranchRecord(name string) (BranchRecord, error) {
	var rec BranchRecord
	err := c.doJSON(http.MethodGet, "/v1/branches/"+url.PathEscape(name), nil, &rec)
	return rec, err
}

// PushBranchRecord advances (or creates) name to head on the server.
func (c *Client) PushBranchRecord(name string, head digest.Digest) error {
	return c.doJSON(http.MethodPut, "/v1/branches/"+url.PathEscape(name), BranchRecord{Name: name, Head: head}, nil)
}

// FetchFindMissingCommits advertises every commit digest reachable from
// branch's head on the server (§4.7 phase 1); the caller computes the
// local-missing set by set difference.
func (c *Client) FetchFindMissingCommits(branch string) ([]digest.Digest, error) {
	var set CommitSet
	err := c.doJSON(http.MethodGet, "/v1/branches/"+url.PathEscape(branch)+"/commits", nil, &set)
	return set.Commits, err
}

// FetchCommit streams a commit's ref blob back from the server.
func (c *Client) FetchCommit(d digest.Digest) (parents []digest.Digest, spec refblob.Spec, blob refblob.RefBlob, err error) {
	req, err := http.NewRequest(http.MethodGet, c.url("/v1/commits/%s", url.PathEscape(string(d))), nil)
	if err != nil {
		return nil, refblob.Spec{}, refblob.RefBlob{}, err
	}
	c.authenticate(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, refblob.Spec{}, refblob.RefBlob{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, refblob.Spec{}, refblob.RefBlob{}, parseErrorResponse(resp)
	}
	if raw := resp.Header.Get("X-Hangar-Parents"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &parents); err != nil {
			return nil, refblob.Spec{}, refblob.RefBlob{}, err
		}
	}
	if raw := resp.Header.Get("X-Hangar-Spec"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &spec); err != nil {
			return nil, refblob.Spec{}, refblob.RefBlob{}, err
		}
	}
	raw, err := readFramedPayload(resp.Body)
	if err != nil {
		return nil, refblob.Spec{}, refblob.RefBlob{}, err
	}
	blob, err = refblob.Decode(raw)
	return parents, spec, blob, err
}

// PushCommit uploads a commit's parents, spec, and ref blob, keyed by its
// precomputed digest. The server recomputes the digest from the body and
// fails DataLoss on mismatch (mirroring the PushData digest contract).
func (c *Client) PushCommit(d digest.Digest, parents []digest.Digest, spec refblob.Spec, blob refblob.RefBlob) error {
	parentsJSON, err := json.Marshal(parents)
	if err != nil {
		return err
	}
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := writeFramedPayload(&buf, blob.CanonicalBytes()); err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, c.url("/v1/commits/%s", url.PathEscape(string(d))), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("X-Hangar-Parents", string(parentsJSON))
	req.Header.Set("X-Hangar-Spec", string(specJSON))
	c.authenticate(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return parseErrorResponse(resp)
	}
	return nil
}

// FetchFindMissingSchemas advertises every schema digest referenced by
// commits (§4.7 phase 2).
func (c *Client) FetchFindMissingSchemas(commits []digest.Digest) ([]digest.Digest, error) {
	var set SchemaDigestSet
	err := c.doJSON(http.MethodPost, "/v1/missing/schemas", CommitDigestsRequest{Commits: commits}, &set)
	return set.Schemas, err
}

// FetchSchema resolves a schema digest to its schema.
func (c *Client) FetchSchema(d digest.Digest) (schema.Schema, error) {
	req, err := http.NewRequest(http.MethodGet, c.url("/v1/schemas/%s", url.PathEscape(string(d))), nil)
	if err != nil {
		return schema.Schema{}, err
	}
	c.authenticate(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return schema.Schema{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return schema.Schema{}, parseErrorResponse(resp)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return schema.Schema{}, err
	}
	return schema.Decode(raw)
}

// PushSchema uploads sch's canonical bytes; the server derives its own
// digest rather than trusting a caller-supplied one.
func (c *Client) PushSchema(sch schema.Schema) (digest.Digest, error) {
	req, err := http.NewRequest(http.MethodPost, c.url("/v1/schemas"), bytes.NewReader(sch.CanonicalBytes()))
	if err != nil {
		return "", err
	}
	c.authenticate(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", parseErrorResponse(resp)
	}
	var out map[string]digest.Digest
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out["digest"], nil
}

// FetchFindMissingHashRecords advertises every sample digest referenced
// by commits (§4.7 phase 3).
func (c *Client) FetchFindMissingHashRecords(commits []digest.Digest) ([]digest.Digest, error) {
	var set HashRecordSet
	err := c.doJSON(http.MethodPost, "/v1/missing/hash-records", CommitDigestsRequest{Commits: commits}, &set)
	return set.Hashes, err
}

// FetchFindDataOrigin resolves the backend placement of each digest, in
// a single request/response exchange (see DESIGN.md on the collapsed
// bidi-stream surface).
func (c *Client) FetchFindDataOrigin(digests []digest.Digest) ([]DataOrigin, error) {
	var resp DataOriginResponse
	err := c.doJSON(http.MethodPost, "/v1/data-origin", DataOriginRequest{Digests: digests}, &resp)
	return resp.Origins, err
}

// FetchData streams a digest's payload back from the server.
func (c *Client) FetchData(d digest.Digest) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, c.url("/v1/data/%s", url.PathEscape(string(d))), nil)
	if err != nil {
		return nil, err
	}
	c.authenticate(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, parseErrorResponse(resp)
	}
	compressed, err := readFramedPayload(resp.Body)
	if err != nil {
		return nil, err
	}
	return wire.Decompress(compressed)
}

// PushBeginContext opens a push context on the server; PushData calls
// outside BEGIN...END fail FailedPrecondition (§4.7).
func (c *Client) PushBeginContext() error {
	return c.doJSON(http.MethodPost, "/v1/push/begin", nil, nil)
}

// PushEndContext closes the currently open push context.
func (c *Client) PushEndContext() error {
	return c.doJSON(http.MethodPost, "/v1/push/end", nil, nil)
}

// PushDataRecord is one (digest, backend selection, payload) tuple
// submitted to PushData.
type PushDataRecord struct {
	Digest         digest.Digest
	BackendCode    string
	BackendOptions map[string]string
	Payload        []byte
}

// PushData uploads a batch of records within an open push context. The
// server may accept only a prefix of the batch if it would exceed its
// advertised push_max_nbytes budget; PushDataBatchResult.Remaining
// reports how many records the caller must resubmit.
func (c *Client) PushData(records []PushDataRecord) (PushDataBatchResult, error) {
	var buf bytes.Buffer
	for _, rec := range records {
		hdr := dataPushRecordHeader{Digest: rec.Digest, BackendCode: rec.BackendCode, BackendOptions: rec.BackendOptions}
		if err := writePushRecord(&buf, hdr, rec.Payload); err != nil {
			return PushDataBatchResult{}, err
		}
	}
	if err := writeEndOfBatch(&buf); err != nil {
		return PushDataBatchResult{}, err
	}

	req, err := http.NewRequest(http.MethodPost, c.url("/v1/push/data"), &buf)
	if err != nil {
		return PushDataBatchResult{}, err
	}
	c.authenticate(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return PushDataBatchResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return PushDataBatchResult{}, parseErrorResponse(resp)
	}
	var out PushDataBatchResult
	err = json.NewDecoder(resp.Body).Decode(&out)
	return out, err
}
