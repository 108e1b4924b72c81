package proxyhttp

import (
	"bytes"
	"errors"
	"io"
	"net/http"
)

// maxBodyBytes is the inbound request body cap (spec.md §4.1 step 2, §8:
// "Body exactly 1 MiB: accepted. 1 MiB + 1 byte: 413").
const maxBodyBytes = 1 << 20 // 1 MiB

// errBodyTooLarge is returned by readBodyCapped when the body exceeds
// maxBodyBytes, whether declared via Content-Length or discovered by a
// running read count on a chunked body.
var errBodyTooLarge = errors.New("request body exceeds 1 MiB limit")

// readBodyCapped enforces the body cap against Content-Length where present
// and by running-count otherwise, reading at most one byte past the limit
// to detect an oversized chunked body without buffering it all.
func readBodyCapped(r *http.Request) ([]byte, error) {
	if r.ContentLength > maxBodyBytes {
		return nil, errBodyTooLarge
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxBodyBytes {
		return nil, errBodyTooLarge
	}
	return body, nil
}

func newBodyReader(body []byte) io.Reader {
	return bytes.NewReader(body)
}
