// Package diag renders forwarded packets for debug logging.
//
// The output has no effect on forwarding. Callers should guard calls with
// [tslog.Logger.Enabled] at debug level, as rendering allocates.
package diag

import (
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
)

// Hash returns the xxHash64 digest of the payload.
func Hash(payload []byte) uint64 {
	return xxhash.Sum64(payload)
}

// Text returns a lossy, quoted UTF-8 rendering of the payload.
// Invalid byte sequences are replaced with U+FFFD.
func Text(payload []byte) string {
	s := string(payload)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, string(utf8.RuneError))
	}
	return strconv.Quote(s)
}

const hexDigits = "0123456789abcdef"

// Hex returns the payload as space-separated lowercase hex bytes, e.g. "de ad be ef".
func Hex(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	b := make([]byte, 0, len(payload)*3-1)
	for i, c := range payload {
		if i > 0 {
			b = append(b, ' ')
		}
		b = append(b, hexDigits[c>>4], hexDigits[c&0xf])
	}
	return string(b)
}

// Packet returns a group attribute describing the payload:
// its length, content hash, lossy text, and hex dump.
func Packet(key string, payload []byte) slog.Attr {
	return slog.Group(key,
		slog.Int("length", len(payload)),
		slog.String("hash", strconv.FormatUint(Hash(payload), 16)),
		slog.String("text", Text(payload)),
		slog.String("hex", Hex(payload)),
	)
}
