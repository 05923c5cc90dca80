package remote

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/hangarstor/hangar/digest"
	"github.com/hangarstor/hangar/remote/wire"
)

// errEndOfBatch is a sentinel returned by readPushRecord when the client
// has sent the zero-length header marking the end of a PushData batch.
var errEndOfBatch = errors.New("remote: end of push batch")

// writePushRecord frames one (header, payload) pair for a PushData
// request body: a 4-byte big-endian header length, the JSON header, then
// the zstd-compressed payload framed per writeFramedPayload (§6
// "Compression"). The client terminates a batch by calling
// writeEndOfBatch.
func writePushRecord(w io.Writer, hdr dataPushRecordHeader, payload []byte) error {
	raw, err := json.Marshal(hdr)
	if err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(raw)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return err
	}
	compressed, err := wire.Compress(payload)
	if err != nil {
		return err
	}
	return writeFramedPayload(w, compressed)
}

// writeEndOfBatch appends the zero-length header terminating a PushData
// request body.
func writeEndOfBatch(w io.Writer) error {
	var lenBuf [4]byte
	_, err := w.Write(lenBuf[:])
	return err
}

// readPushRecord reads one record written by writePushRecord, returning
// errEndOfBatch once the terminating zero-length header is reached.
func readPushRecord(r io.Reader) (dataPushRecordHeader, []byte, bool, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return dataPushRecordHeader{}, nil, false, errEndOfBatch
		}
		return dataPushRecordHeader{}, nil, false, err
	}
	hdrLen := binary.BigEndian.Uint32(lenBuf[:])
	if hdrLen == 0 {
		return dataPushRecordHeader{}, nil, false, errEndOfBatch
	}
	raw := make([]byte, hdrLen)
	if _, err := io.ReadFull(r, raw); err != nil {
		return dataPushRecordHeader{}, nil, false, err
	}
	var hdr dataPushRecordHeader
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return dataPushRecordHeader{}, nil, false, err
	}
	compressed, err := readFramedPayload(r)
	if err != nil {
		return dataPushRecordHeader{}, nil, false, err
	}
	payload, err := wire.Decompress(compressed)
	if err != nil {
		return dataPushRecordHeader{}, nil, false, err
	}
	return hdr, payload, true, nil
}

// readAll drains r's body, used for unary requests whose payload is a
// bare canonical encoding rather than a JSON envelope (PushSchema).
func readAll(r *http.Request) ([]byte, error) {
	return io.ReadAll(r.Body)
}

// digestFromPayload recomputes payload's digest under want's kind, for
// comparing against an asserted digest without trusting the caller's
// algorithm tag.
func digestFromPayload(want digest.Digest, payload []byte) digest.Digest {
	return digest.FromCanonicalBytes(want.Kind(), payload)
}
