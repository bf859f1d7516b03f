package bridge

// MaxMessageUnits is the largest outbound message size, in UTF-16 code
// units, sent in one piece.
const MaxMessageUnits = 4000

// Chunk splits s into consecutive pieces of at most size UTF-16 code units
// without breaking a code point. Concatenating the pieces yields s.
func Chunk(s string, size int) []string {
	if s == "" {
		return nil
	}
	if size <= 0 {
		return []string{s}
	}

	var chunks []string
	start, units := 0, 0
	for i, r := range s {
		n := 1
		if r >= 0x10000 {
			n = 2
		}
		if units+n > size {
			chunks = append(chunks, s[start:i])
			start, units = i, 0
		}
		units += n
	}
	return append(chunks, s[start:])
}
