package utils

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"
	"time"
)

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// GenerateUploadID returns a new upload identifier of the form
// u_<base36 millisecond timestamp><8 base36 random chars>.
func GenerateUploadID() string {
	var sb strings.Builder
	sb.WriteString("u_")
	sb.WriteString(strconv.FormatInt(time.Now().UnixMilli(), 36))
	sb.WriteString(randomBase36(8))
	return sb.String()
}

// ValidateUploadID reports whether id looks like an upload identifier.
// Any string starting with "u_" and longer than the prefix is accepted.
func ValidateUploadID(id string) bool {
	return strings.HasPrefix(id, "u_") && len(id) > 2
}

func randomBase36(n int) string {
	max := big.NewInt(int64(len(base36Alphabet)))
	b := make([]byte, n)
	for i := range b {
		v, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails if the OS entropy source is broken;
			// fall back to a time-derived digit rather than panicking.
			b[i] = base36Alphabet[time.Now().UnixNano()%36]
			continue
		}
		b[i] = base36Alphabet[v.Int64()]
	}
	return string(b)
}
