package rewrite

import (
	"bytes"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"

	"github.com/keithlinneman/linnemanlabs-damproxy/internal/xerrors"
)

// maxDecodedBody caps how far a compressed body is inflated before we give up and pass it through.
const maxDecodedBody = 32 << 20

// decodeBody undoes the Content-Encoding the downstream handler applied so the
// JSON can be parsed. Identity (or no) encoding returns raw unchanged.
func decodeBody(contentEncoding string, raw []byte) ([]byte, error) {
	enc := strings.ToLower(strings.TrimSpace(contentEncoding))
	var r io.Reader
	switch enc {
	case "", "identity":
		return raw, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, xerrors.Wrap(err, "open gzip body")
		}
		defer zr.Close()
		r = zr
	case "deflate":
		// http deflate is the zlib format
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, xerrors.Wrap(err, "open deflate body")
		}
		defer zr.Close()
		r = zr
	case "br":
		r = brotli.NewReader(bytes.NewReader(raw))
	default:
		return nil, xerrors.Newf("unsupported content encoding %q", contentEncoding)
	}

	out, err := io.ReadAll(io.LimitReader(r, maxDecodedBody+1))
	if err != nil {
		return nil, xerrors.Wrapf(err, "decode %s body", enc)
	}
	if len(out) > maxDecodedBody {
		return nil, xerrors.Newf("decoded %s body exceeds %d bytes", enc, maxDecodedBody)
	}
	return out, nil
}
