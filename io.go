package main

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/ar27111994/webhook-debugger-logger-sub003/log"
)

// RespondJSON merges extraHeaders into rw's header set, then writes
// statusCode followed by body. Used by the ingestion pipeline and the
// server's own handlers to apply a webhook's configured response headers
// before sending the response body.
func RespondJSON(rw http.ResponseWriter, statusCode int, body []byte, extraHeaders map[string]string) error {
	h := rw.Header()
	for k, v := range extraHeaders {
		h.Set(k, v)
	}
	if h.Get("Content-Type") == "" && len(body) > 0 {
		h.Set("Content-Type", "application/json; charset=utf-8")
	}
	rw.WriteHeader(statusCode)
	if len(body) == 0 {
		return nil
	}
	_, err := rw.Write(body)
	if err != nil {
		log.Errorf("cannot send response to client: %s", err)
	}
	return err
}

// RespondError writes a small JSON error envelope and logs err.
func RespondError(rw http.ResponseWriter, statusCode int, err error) {
	log.Errorf("request failed: %s", err)
	body, marshalErr := json.Marshal(map[string]string{"error": err.Error()})
	if marshalErr != nil {
		rw.WriteHeader(statusCode)
		return
	}
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(statusCode)
	rw.Write(body)
}

var _ io.ReadCloser = &cachedReadCloser{}

// cachedReadCloser snapshots the raw request body as it is read, byte for
// byte, up to maxCached bytes. The ingestion pipeline uses it to report a
// truncated body snippet when a request is rejected partway through
// reading (e.g. for exceeding the payload cap) instead of only "payload
// too large" with no context.
type cachedReadCloser struct {
	io.ReadCloser

	maxCached int

	// bLock protects b from concurrent access when Read and Bytes
	// are called from concurrent goroutines.
	bLock sync.Mutex

	// b holds up to maxCached bytes of the data read from ReadCloser.
	b []byte
}

func newCachedReadCloser(rc io.ReadCloser, maxCached int) *cachedReadCloser {
	if maxCached <= 0 {
		maxCached = 1024
	}
	return &cachedReadCloser{ReadCloser: rc, maxCached: maxCached}
}

func (crc *cachedReadCloser) Read(p []byte) (int, error) {
	n, err := crc.ReadCloser.Read(p)

	crc.bLock.Lock()
	if len(crc.b) < crc.maxCached {
		crc.b = append(crc.b, p[:n]...)
		if len(crc.b) > crc.maxCached {
			crc.b = crc.b[:crc.maxCached]
		}
	}
	crc.bLock.Unlock()

	return n, err
}

// Bytes returns the raw bytes captured so far, byte-exact up to maxCached.
func (crc *cachedReadCloser) Bytes() []byte {
	crc.bLock.Lock()
	b := make([]byte, len(crc.b))
	copy(b, crc.b)
	crc.bLock.Unlock()
	return b
}

func (crc *cachedReadCloser) String() string {
	return string(crc.Bytes())
}
