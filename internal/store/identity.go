package store

import (
	"crypto/sha1" //nolint:gosec // identity hash, not a security boundary
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/sells-group/supervisor-finder/internal/classify"
	"github.com/sells-group/supervisor-finder/internal/model"
)

var nonWord = regexp.MustCompile(`[^\p{L}\p{N}_\s]+`)

// normalize lowercases s, strips non-word characters and collapses
// whitespace.
func normalize(s string) string {
	s = nonWord.ReplaceAllString(strings.ToLower(s), "")
	return strings.Join(strings.Fields(s), " ")
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// CanonicalID derives the deduplication key for a supervisor. The email is
// preferred, then name+institution+domain, then the profile URL. It returns
// "" when none of them is present.
func CanonicalID(c *model.CandidateSupervisor) string {
	if email := strings.ToLower(strings.TrimSpace(c.Email)); email != "" {
		return "email:" + email
	}
	if name := normalize(c.Name); name != "" && (c.Institution != "" || c.Domain != "") {
		key := name + "|" + normalize(c.Institution) + "|" + normalize(c.Domain)
		return "name:" + sha1Hex(key)
	}
	if c.ProfileURL != "" {
		return "url:" + sha1Hex(classify.NormalizeURL(c.ProfileURL))
	}
	return ""
}
