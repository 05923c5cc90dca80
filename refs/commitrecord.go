package refs

import (
	"bytes"
	"encoding/binary"

	"github.com/hangarstor/hangar/digest"
	"github.com/hangarstor/hangar/refblob"
)

// commitRecord is the persisted form of one commit: its parents, spec,
// and ref blob. The ref blob is stored via its own canonical encoding
// (refblob.RefBlob.CanonicalBytes/Decode), so the only new wire format
// here is the parents list and the spec fields.
type commitRecord struct {
	Parents []digest.Digest
	Spec    refblob.Spec
	Blob    refblob.RefBlob
}

func writeString(buf *bytes.Buffer, s string) {
	_ = binary.Write(buf, binary.LittleEndian, int32(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return "", err
	}
	return string(b), nil
}

func encodeCommitRecord(rec commitRecord) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, int32(len(rec.Parents)))
	for _, p := range rec.Parents {
		writeString(&buf, string(p))
	}
	writeString(&buf, rec.Spec.Author)
	_ = binary.Write(&buf, binary.LittleEndian, rec.Spec.Timestamp)
	writeString(&buf, rec.Spec.Message)

	blobBytes := rec.Blob.CanonicalBytes()
	_ = binary.Write(&buf, binary.LittleEndian, int32(len(blobBytes)))
	buf.Write(blobBytes)

	return buf.Bytes()
}

func decodeCommitRecord(raw []byte) (commitRecord, error) {
	r := bytes.NewReader(raw)

	var numParents int32
	if err := binary.Read(r, binary.LittleEndian, &numParents); err != nil {
		return commitRecord{}, err
	}
	parents := make([]digest.Digest, numParents)
	for i := range parents {
		s, err := readString(r)
		if err != nil {
			return commitRecord{}, err
		}
		parents[i] = digest.Digest(s)
	}

	author, err := readString(r)
	if err != nil {
		return commitRecord{}, err
	}
	var ts int64
	if err := binary.Read(r, binary.LittleEndian, &ts); err != nil {
		return commitRecord{}, err
	}
	message, err := readString(r)
	if err != nil {
		return commitRecord{}, err
	}

	var blobLen int32
	if err := binary.Read(r, binary.LittleEndian, &blobLen); err != nil {
		return commitRecord{}, err
	}
	blobBytes := make([]byte, blobLen)
	if _, err := r.Read(blobBytes); err != nil {
		return commitRecord{}, err
	}
	blob, err := refblob.Decode(blobBytes)
	if err != nil {
		return commitRecord{}, err
	}

	return commitRecord{
		Parents: parents,
		Spec:    refblob.Spec{Author: author, Timestamp: ts, Message: message},
		Blob:    blob,
	}, nil
}
