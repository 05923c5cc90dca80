package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/hangarstor/hangar/checkout"
	"github.com/hangarstor/hangar/config"
	"github.com/hangarstor/hangar/digest"
	"github.com/hangarstor/hangar/errs/errcode"
	"github.com/hangarstor/hangar/internal/dcontext"
	"github.com/hangarstor/hangar/kvstore"
	"github.com/hangarstor/hangar/refblob"
	"github.com/hangarstor/hangar/refs"
	"github.com/hangarstor/hangar/remote/wire"
	"github.com/hangarstor/hangar/schema"
	"github.com/hangarstor/hangar/schemastore"
)

// Authenticator validates a basic-auth username/password pair for
// restricted push operations (§6 "Authentication. Optional header-based
// username/password check").
type Authenticator func(username, password string) bool

// Server serves the remote protocol RPC surface (§4.7) over HTTP,
// wired to one repository. Modeled on the teacher's App
// (registry/handlers/app.go): one struct owning the storage layer and
// a mux.Router dispatching to method handlers.
type Server struct {
	repo   *checkout.Repository
	cfg    config.Server
	auth   Authenticator
	router *mux.Router

	pushMu     sync.Mutex
	pushActive bool
}

// NewServer constructs a Server for repo, configured per cfg. auth may be
// nil, in which case restricted push always fails closed (§6 "restrict_push").
func NewServer(repo *checkout.Repository, cfg config.Server, auth Authenticator) *Server {
	s := &Server{repo: repo, cfg: cfg, auth: auth, router: mux.NewRouter()}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithValue(r.Context(), "repository", s.repo.Root())
	s.router.ServeHTTP(w, r.WithContext(ctx))
}

func (s *Server) routes() {
	s.router.HandleFunc("/v1/ping", s.handlePing).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/client-config", s.handleGetClientConfig).Methods(http.MethodGet)

	s.router.HandleFunc("/v1/branches/{name}", s.handleFetchBranchRecord).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/branches/{name}", s.handlePushBranchRecord).Methods(http.MethodPut)
	s.router.HandleFunc("/v1/branches/{name}/commits", s.handleAdvertiseCommits).Methods(http.MethodGet)

	s.router.HandleFunc("/v1/commits/{digest}", s.handleFetchCommit).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/commits/{digest}", s.handlePushCommit).Methods(http.MethodPost)

	s.router.HandleFunc("/v1/schemas/{digest}", s.handleFetchSchema).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/schemas", s.handlePushSchema).Methods(http.MethodPost)

	s.router.HandleFunc("/v1/data-origin", s.handleFindDataOrigin).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/data/{digest}", s.handleFetchData).Methods(http.MethodGet)

	s.router.HandleFunc("/v1/push/begin", s.handlePushBeginContext).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/push/end", s.handlePushEndContext).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/push/data", s.handlePushData).Methods(http.MethodPost)

	s.router.HandleFunc("/v1/missing/schemas", s.handleAdvertiseSchemas).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/missing/hash-records", s.handleAdvertiseHashRecords).Methods(http.MethodPost)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	if coder, ok := err.(errcode.ErrorCoder); ok {
		code := coder.ErrorCode()
		writeJSON(w, code.HTTPStatusCode(), err)
		return
	}
	writeJSON(w, http.StatusInternalServerError, errcode.ErrorCodeInternal.WithDetail(err.Error()))
}

func (s *Server) requireAuth(w http.ResponseWriter, r *http.Request) bool {
	if !s.cfg.RestrictPush {
		return true
	}
	username, password, ok := r.BasicAuth()
	if !ok || s.auth == nil || !s.auth(username, password) {
		writeError(w, errcode.ErrorCodePermissionDenied.WithDetail("push is restricted"))
		return false
	}
	return true
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	observe("Ping", start, nil)
}

func (s *Server) handleGetClientConfig(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	writeJSON(w, http.StatusOK, ClientConfig{
		PushMaxNBytes:    s.cfg.PushMaxNBytes,
		CompressionCodec: "zstd",
		CompressionLevel: 3,
	})
	observe("GetClientConfig", start, nil)
}

func (s *Server) handleFetchBranchRecord(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	name := mux.Vars(r)["name"]
	var head digest.Digest
	err := s.repo.Store().View(func(txn *kvstore.Txn) error {
		var err error
		head, err = refs.Head(txn, name)
		return err
	})
	if err != nil {
		writeError(w, err)
		observe("FetchBranchRecord", start, err)
		return
	}
	writeJSON(w, http.StatusOK, BranchRecord{Name: name, Head: head})
	observe("FetchBranchRecord", start, nil)
}

func (s *Server) handlePushBranchRecord(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if !s.requireAuth(w, r) {
		observe("PushBranchRecord", start, errcode.ErrorCodePermissionDenied)
		return
	}
	name := mux.Vars(r)["name"]
	var rec BranchRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, errcode.ErrorCodeInternal.WithDetail(err.Error()))
		observe("PushBranchRecord", start, err)
		return
	}
	err := s.repo.Store().Update(func(txn *kvstore.Txn) error {
		_, err := refs.Head(txn, name)
		if coder, ok := err.(errcode.ErrorCoder); ok && coder.ErrorCode() == errcode.ErrorCodeNotFound {
			return refs.Create(txn, name, rec.Head)
		}
		if err != nil {
			return err
		}
		return refs.SetHead(txn, name, rec.Head, false)
	})
	if err != nil {
		writeError(w, err)
		observe("PushBranchRecord", start, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
	observe("PushBranchRecord", start, nil)
}

func (s *Server) handleAdvertiseCommits(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	name := mux.Vars(r)["name"]
	var commits []digest.Digest
	err := s.repo.Store().View(func(txn *kvstore.Txn) error {
		list, err := refs.History(txn, name)
		commits = list
		return err
	})
	if err != nil {
		writeError(w, err)
		observe("FetchFindMissingCommits", start, err)
		return
	}
	writeJSON(w, http.StatusOK, CommitSet{Commits: commits})
	observe("FetchFindMissingCommits", start, nil)
}

func (s *Server) handleFetchCommit(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	d := digest.Digest(mux.Vars(r)["digest"])
	var parents []digest.Digest
	var spec refblob.Spec
	var blob refblob.RefBlob
	err := s.repo.Store().View(func(txn *kvstore.Txn) error {
		p, sp, b, err := refs.GetCommit(txn, d)
		parents, spec, blob = p, sp, b
		return err
	})
	if err != nil {
		writeError(w, err)
		observe("FetchCommit", start, err)
		return
	}
	parentsJSON, err := json.Marshal(parents)
	if err != nil {
		writeError(w, errcode.ErrorCodeInternal.WithDetail(err.Error()))
		observe("FetchCommit", start, err)
		return
	}
	specJSON, err := json.Marshal(spec)
	if err != nil {
		writeError(w, errcode.ErrorCodeInternal.WithDetail(err.Error()))
		observe("FetchCommit", start, err)
		return
	}
	w.Header().Set("X-Hangar-Parents", string(parentsJSON))
	w.Header().Set("X-Hangar-Spec", string(specJSON))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if err := writeFramedPayload(w, blob.CanonicalBytes()); err != nil {
		dcontext.GetLogger(r.Context()).Errorf("remote: FetchCommit stream write: %v", err)
	}
	observe("FetchCommit", start, nil)
}

// handlePushCommit uploads a commit's ref blob and parent list, computed
// client-side, and atomically records it (§6 "Fails AlreadyExists if
// digest present" — here that's folded into PutCommit's idempotent
// no-op, matching the engine's own idempotent-push contract rather than
// surfacing AlreadyExists as a hard error).
func (s *Server) handlePushCommit(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if !s.requireAuth(w, r) {
		observe("PushCommit", start, errcode.ErrorCodePermissionDenied)
		return
	}
	d := digest.Digest(mux.Vars(r)["digest"])

	var parents []digest.Digest
	if raw := r.Header.Get("X-Hangar-Parents"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &parents); err != nil {
			writeError(w, errcode.ErrorCodeInternal.WithDetail(err.Error()))
			observe("PushCommit", start, err)
			return
		}
	}
	var spec refblob.Spec
	if raw := r.Header.Get("X-Hangar-Spec"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &spec); err != nil {
			writeError(w, errcode.ErrorCodeInternal.WithDetail(err.Error()))
			observe("PushCommit", start, err)
			return
		}
	}

	raw, err := readFramedPayload(r.Body)
	if err != nil {
		writeError(w, errcode.ErrorCodeInternal.WithDetail(err.Error()))
		observe("PushCommit", start, err)
		return
	}
	blob, err := refblob.Decode(raw)
	if err != nil {
		writeError(w, errcode.ErrorCodeInternal.WithDetail(err.Error()))
		observe("PushCommit", start, err)
		return
	}
	if got := refblob.CommitDigest(parents, spec, blob); got != d {
		err := errcode.ErrorCodeDataLoss.WithDetail("commit digest mismatch")
		writeError(w, err)
		observe("PushCommit", start, err)
		return
	}

	err = s.repo.Store().Update(func(txn *kvstore.Txn) error {
		return refs.PutCommit(txn, d, parents, spec, blob)
	})
	if err != nil {
		writeError(w, err)
		observe("PushCommit", start, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]digest.Digest{"digest": d})
	observe("PushCommit", start, nil)
}

func (s *Server) handleFetchSchema(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	d := digest.Digest(mux.Vars(r)["digest"])
	var sch schema.Schema
	err := s.repo.Store().View(func(txn *kvstore.Txn) error {
		var err error
		sch, err = schemastore.Get(txn, d)
		return err
	})
	if err != nil {
		writeError(w, err)
		observe("FetchSchema", start, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(sch.CanonicalBytes())
	observe("FetchSchema", start, nil)
}

func (s *Server) handlePushSchema(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if !s.requireAuth(w, r) {
		observe("PushSchema", start, errcode.ErrorCodePermissionDenied)
		return
	}
	raw, err := readAll(r)
	if err != nil {
		writeError(w, errcode.ErrorCodeInternal.WithDetail(err.Error()))
		observe("PushSchema", start, err)
		return
	}
	sch, err := schema.Decode(raw)
	if err != nil {
		writeError(w, errcode.ErrorCodeInternal.WithDetail(err.Error()))
		observe("PushSchema", start, err)
		return
	}
	var d digest.Digest
	err = s.repo.Store().Update(func(txn *kvstore.Txn) error {
		var err error
		d, err = schemastore.Put(txn, sch)
		return err
	})
	if err != nil {
		writeError(w, err)
		observe("PushSchema", start, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]digest.Digest{"digest": d})
	observe("PushSchema", start, nil)
}

// handleFindDataOrigin answers both PushFindDataOrigin and
// FetchFindDataOrigin (§6); the true bidi-stream surface collapses to a
// single request/response exchange (see DESIGN.md).
func (s *Server) handleFindDataOrigin(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req DataOriginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errcode.ErrorCodeInternal.WithDetail(err.Error()))
		observe("FetchFindDataOrigin", start, err)
		return
	}
	var resp DataOriginResponse
	err := s.repo.Store().View(func(txn *kvstore.Txn) error {
		for _, d := range req.Digests {
			raw, err := txn.Get(kvstore.DBHashes, []byte(d))
			if err != nil {
				continue
			}
			locator := string(raw)
			if len(locator) < 2 {
				continue
			}
			resp.Origins = append(resp.Origins, DataOrigin{Digest: d, BackendCode: locator[:2]})
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		observe("FetchFindDataOrigin", start, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	observe("FetchFindDataOrigin", start, nil)
}

func (s *Server) handleFetchData(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	d := digest.Digest(mux.Vars(r)["digest"])
	var payload []byte
	err := s.repo.Store().View(func(txn *kvstore.Txn) error {
		var err error
		payload, err = s.repo.Index().Get(txn, d)
		return err
	})
	if err != nil {
		writeError(w, err)
		observe("FetchData", start, err)
		return
	}
	compressed, err := wire.Compress(payload)
	if err != nil {
		writeError(w, errcode.ErrorCodeInternal.WithDetail(err.Error()))
		observe("FetchData", start, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if err := writeFramedPayload(w, compressed); err != nil {
		dcontext.GetLogger(r.Context()).Errorf("remote: FetchData stream write: %v", err)
	}
	observe("FetchData", start, nil)
}

func (s *Server) handlePushBeginContext(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if !s.requireAuth(w, r) {
		observe("PushBeginContext", start, errcode.ErrorCodePermissionDenied)
		return
	}
	s.pushMu.Lock()
	if s.pushActive {
		s.pushMu.Unlock()
		err := errcode.ErrorCodeFailedPrecondition.WithDetail("a push context is already open")
		writeError(w, err)
		observe("PushBeginContext", start, err)
		return
	}
	s.pushActive = true
	s.pushMu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "BEGIN"})
	observe("PushBeginContext", start, nil)
}

func (s *Server) handlePushEndContext(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.pushMu.Lock()
	s.pushActive = false
	s.pushMu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "END"})
	observe("PushEndContext", start, nil)
}

// handlePushData accepts a batch of (header, framed payload) records
// (§4.7 "PushData outside BEGIN...END fails FailedPrecondition"). Each
// record's payload is re-hashed and compared against its asserted
// digest; a mismatch aborts the WHOLE batch with DataLoss and persists
// nothing from it (§4.7, §8 scenario 6). If admitting a record would
// exceed the server's advertised push_max_nbytes budget for this batch,
// the server stops and reports how many records were accepted so the
// client can resubmit the remainder (§4.7 "partial completion").
func (s *Server) handlePushData(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.pushMu.Lock()
	active := s.pushActive
	s.pushMu.Unlock()
	if !active {
		err := errcode.ErrorCodeFailedPrecondition.WithDetail("PushData outside BEGIN...END")
		writeError(w, err)
		observe("PushData", start, err)
		return
	}
	if !s.requireAuth(w, r) {
		observe("PushData", start, errcode.ErrorCodePermissionDenied)
		return
	}

	var records []dataPushRecordHeader
	var payloads [][]byte
	var consumed int64
	var remaining int

	for {
		hdr, payload, ok, err := readPushRecord(r.Body)
		if err == errEndOfBatch {
			break
		}
		if err != nil {
			writeError(w, errcode.ErrorCodeInternal.WithDetail(err.Error()))
			observe("PushData", start, err)
			return
		}
		if !ok {
			break
		}
		if consumed+int64(len(payload)) > s.cfg.PushMaxNBytes {
			// Budget exhausted for this batch: stop admitting records but
			// keep draining the body so the connection ends cleanly, and
			// count what the client will need to resubmit.
			remaining++
			for {
				_, _, ok, err := readPushRecord(r.Body)
				if err == errEndOfBatch || !ok {
					break
				}
				if err != nil {
					break
				}
				remaining++
			}
			break
		}

		got := digestFromPayload(hdr.Digest, payload)
		if got != hdr.Digest {
			err := errcode.ErrorCodeDataLoss.WithDetail("payload digest mismatch, batch aborted")
			writeError(w, err)
			observe("PushData", start, err)
			return
		}
		records = append(records, hdr)
		payloads = append(payloads, payload)
		consumed += int64(len(payload))
	}

	var accepted []digest.Digest
	err := s.repo.Store().Update(func(txn *kvstore.Txn) error {
		for i, hdr := range records {
			// Only DefaultBackend/BackendOptions matter to Index.Put; the
			// rest of this schema is never persisted or compared.
			sch := schema.Schema{DefaultBackend: hdr.BackendCode, BackendOptions: hdr.BackendOptions, MaxShape: []int64{1}, DType: schema.DTypeUint8}
			if err := s.repo.Index().Put(txn, hdr.Digest, payloads[i], sch); err != nil {
				return err
			}
			accepted = append(accepted, hdr.Digest)
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		observe("PushData", start, err)
		return
	}
	observePushedBytes("PushData", int(consumed))
	writeJSON(w, http.StatusOK, PushDataBatchResult{Accepted: accepted, Remaining: remaining})
	observe("PushData", start, nil)
}

func (s *Server) handleAdvertiseSchemas(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req CommitDigestsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errcode.ErrorCodeInternal.WithDetail(err.Error()))
		observe("FetchFindMissingSchemas", start, err)
		return
	}
	seen := map[digest.Digest]struct{}{}
	var out []digest.Digest
	err := s.repo.Store().View(func(txn *kvstore.Txn) error {
		for _, c := range req.Commits {
			_, _, blob, err := refs.GetCommit(txn, c)
			if err != nil {
				return err
			}
			for _, as := range blob.Arraysets {
				if _, ok := seen[as.SchemaDigest]; !ok {
					seen[as.SchemaDigest] = struct{}{}
					out = append(out, as.SchemaDigest)
				}
			}
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		observe("FetchFindMissingSchemas", start, err)
		return
	}
	writeJSON(w, http.StatusOK, SchemaDigestSet{Schemas: out})
	observe("FetchFindMissingSchemas", start, nil)
}

func (s *Server) handleAdvertiseHashRecords(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req CommitDigestsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errcode.ErrorCodeInternal.WithDetail(err.Error()))
		observe("FetchFindMissingHashRecords", start, err)
		return
	}
	seen := map[digest.Digest]struct{}{}
	var out []digest.Digest
	err := s.repo.Store().View(func(txn *kvstore.Txn) error {
		for _, c := range req.Commits {
			_, _, blob, err := refs.GetCommit(txn, c)
			if err != nil {
				return err
			}
			for _, as := range blob.Arraysets {
				for _, sample := range as.Samples {
					if _, ok := seen[sample.Digest]; !ok {
						seen[sample.Digest] = struct{}{}
						out = append(out, sample.Digest)
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		observe("FetchFindMissingHashRecords", start, err)
		return
	}
	writeJSON(w, http.StatusOK, HashRecordSet{Hashes: out})
	observe("FetchFindMissingHashRecords", start, nil)
}
