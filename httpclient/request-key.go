package httpclient

import (
	"crypto/sha256"
	"fmt"
)

// RequestKey returns a fingerprint for a request, suitable as a dedup key.
// GET-style requests without a body are keyed by method and URL only;
// if there is a body, its hash is appended.
func RequestKey(method, url string, body []byte) string {
	key := method + ":" + url
	if len(body) > 0 {
		key += "\t" + bodyHash(body)
	}
	return key
}

func bodyHash(body []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(body))
}
