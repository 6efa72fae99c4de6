package service

import (
	"crypto/rand"
	"strconv"
	"time"
)

const tokenAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewSessionToken returns a correlation token of the form session_<unixmillis>_<9 base36 chars>.
func NewSessionToken(now time.Time) string {
	suffix := make([]byte, 0, 9)
	buf := make([]byte, 16)
	for len(suffix) < 9 {
		if _, err := rand.Read(buf); err != nil {
			panic(err) // crypto/rand.Read never fails on supported platforms
		}
		for _, b := range buf {
			// 252 = 7*36; rejecting larger bytes keeps the distribution uniform.
			if b >= 252 {
				continue
			}
			suffix = append(suffix, tokenAlphabet[b%36])
			if len(suffix) == 9 {
				break
			}
		}
	}
	return "session_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + string(suffix)
}
