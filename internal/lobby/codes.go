package lobby

import (
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// codeAlphabet omits easily confused characters (I, O, 0, 1).
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	codeLength      = 5
	maxCodeAttempts = 6
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{4,6}$`)

// ValidCode reports whether code has the join-code shape.
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}

func randomCode(rng *rand.Rand) string {
	var b strings.Builder
	for i := 0; i < codeLength; i++ {
		b.WriteByte(codeAlphabet[rng.Intn(len(codeAlphabet))])
	}
	return b.String()
}

// fallbackCode derives a code from the clock when random generation keeps
// colliding. Still matches the 4-6 alphanumeric shape.
func fallbackCode(now time.Time) string {
	s := strings.ToUpper(strconv.FormatInt(now.UnixNano(), 36))
	if len(s) > 6 {
		s = s[len(s)-6:]
	}
	return s
}
