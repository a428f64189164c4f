package codec

import (
	"bytes"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zlib"
)

// Encoding names the compression applied to a response body, as carried in
// Content-Encoding.
const Encoding = "deflate"

// Compress returns the zlib form of b.
func Compress(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(b); err != nil {
		return nil, errors.Wrap(err, "compress")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "compress")
	}
	return buf.Bytes(), nil
}

// MaxInflatedSize bounds the output of Decompress. Listings and entries are
// far smaller, so anything larger is treated as malformed.
const MaxInflatedSize = 32 << 20

// Decompress inflates a zlib stream of at most MaxInflatedSize bytes.
func Decompress(b []byte) ([]byte, error) { return DecompressLimit(b, MaxInflatedSize) }

// DecompressLimit inflates a zlib stream, failing with ErrMalformed as soon
// as the output grows past max bytes.
func DecompressLimit(b []byte, max int64) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, errors.Wrapf(ErrMalformed, "decompress: %v", err)
	}
	defer func() { _ = r.Close() }()
	out, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, errors.Wrapf(ErrMalformed, "decompress: %v", err)
	}
	if int64(len(out)) > max {
		return nil, errors.Wrapf(ErrMalformed, "decompress: inflates past %d bytes", max)
	}
	return out, nil
}
