package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spaolacci/murmur3"
)

// weakETag hashes an encoded body into a weak validator.
func weakETag(body []byte) string {
	return fmt.Sprintf(`W/"%016x"`, murmur3.Sum64(body))
}

// etagMatches implements the weak comparison used for If-None-Match.
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	if strings.TrimSpace(header) == "*" {
		return true
	}
	want := strings.TrimPrefix(etag, "W/")
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == want {
			return true
		}
	}
	return false
}

// respondWithETag writes data with a weak ETag, or 304 when the client
// already holds the same representation.
func (h responder) respondWithETag(w http.ResponseWriter, r *http.Request, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "Failed to encode response")
		return
	}

	etag := weakETag(body)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")

	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(append(body, '\n'))
}
