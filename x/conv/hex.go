package conv

const hexd = "0123456789abcdef"

// U32Hex writes 8-digit lowercase hex without 0x, zero-padded.
func U32Hex(buf []byte, n uint32) []byte {
	if len(buf) < 8 {
		return buf[:0]
	}
	i := len(buf)
	for j := 0; j < 8; j++ {
		i--
		buf[i] = hexd[n&0xF]
		n >>= 4
	}
	return buf[i:]
}

// AppendHexColon appends b as colon-separated hex octets ("00:12:4b").
func AppendHexColon(dst, b []byte) []byte {
	for i, x := range b {
		if i > 0 {
			dst = append(dst, ':')
		}
		dst = append(dst, hexd[x>>4], hexd[x&0xF])
	}
	return dst
}

// ParseHexColon parses colon-separated hex octets into dst and returns the
// number of octets written. Separators are optional ("00124b" is accepted).
// ok is false on a malformed string or when dst is too small.
func ParseHexColon(dst []byte, s string) (n int, ok bool) {
	hi := -1
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == ':' || c == '-' {
			if hi >= 0 {
				return 0, false
			}
			continue
		}
		v := nibble(c)
		if v < 0 {
			return 0, false
		}
		if hi < 0 {
			hi = v
			continue
		}
		if n >= len(dst) {
			return 0, false
		}
		dst[n] = byte(hi<<4 | v)
		n++
		hi = -1
	}
	if hi >= 0 {
		return 0, false
	}
	return n, true
}

func nibble(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	}
	return -1
}
