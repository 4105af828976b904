package encoding

// StripNonASCII removes every byte outside printable 7-bit ASCII (0x20-0x7E).
// Tab, line feed and carriage return are kept since they separate tokens in
// element text. Bytes are removed, not replaced, so multi-byte UTF-8
// sequences disappear entirely. The input slice is not modified.
func StripNonASCII(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for _, b := range data {
		if keepByte(b) {
			out = append(out, b)
		}
	}
	return out
}

// IsClean reports whether StripNonASCII would return data unchanged.
func IsClean(data []byte) bool {
	for _, b := range data {
		if !keepByte(b) {
			return false
		}
	}
	return true
}

func keepByte(b byte) bool {
	switch {
	case b >= 0x20 && b <= 0x7e:
		return true
	case b == '\t', b == '\n', b == '\r':
		return true
	}
	return false
}
