package analysis

// ExtractJSON returns the outermost balanced {...} span in text. Braces inside
// JSON strings are ignored. When the text holds several top-level objects the
// longest one wins. ok is false when no balanced object exists.
func ExtractJSON(text string) (span string, ok bool) {
	bestStart, bestEnd := -1, -1

	depth := 0
	start := -1
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		c := text[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			// Quotes only matter inside an object; prose may contain stray ones.
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				if i+1-start > bestEnd-bestStart {
					bestStart, bestEnd = start, i+1
				}
				start = -1
			}
		}
	}

	if bestStart < 0 {
		return "", false
	}
	return text[bestStart:bestEnd], true
}
