// Package respcache implements the response cache with single-flight
// coalescing described for the dispatcher: a fingerprint maps to a
// previously computed ExecuteResponse, and concurrent arrivals for the same
// fingerprint share one in-flight adapter execution.
package respcache

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// Fingerprint computes the stable cache key over (community, module,
// command, normalized-args, principal-role-bucket). Principal id is
// excluded unless userScoped is set on the route's cache policy.
func Fingerprint(communityID, moduleID, command, normalizedArgs, roleBucket string, userScoped bool, principalID string) string {
	h := sha256.New()
	io.WriteString(h, communityID)
	h.Write([]byte{'\n'})
	io.WriteString(h, moduleID)
	h.Write([]byte{'\n'})
	io.WriteString(h, command)
	h.Write([]byte{'\n'})
	io.WriteString(h, normalizedArgs)
	h.Write([]byte{'\n'})
	io.WriteString(h, roleBucket)
	if userScoped {
		h.Write([]byte{'\n'})
		io.WriteString(h, principalID)
	}
	return hex.EncodeToString(h.Sum(nil))
}
