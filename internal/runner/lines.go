package runner

import "unicode/utf8"

// splitter turns decoded text into discrete lines, carrying an unterminated
// trailing partial line from one chunk to the next. Scanning advances by code
// point so a terminator is never recognized inside a multi-byte character.
type splitter struct {
	preserve bool
	rest     string
}

// split prepends the carried remainder to chunk and extracts every complete
// line. A line ends at "\n", "\r\n", or a lone "\r" followed by another
// character. A "\r" that is the final character of the buffer is held back:
// the next chunk may supply the "\n" that pairs with it.
func (s *splitter) split(chunk string) []string {
	data := s.rest + chunk
	s.rest = ""

	var lines []string
	start := 0
	i := 0
	for i < len(data) {
		switch data[i] {
		case '\n':
			if s.preserve {
				lines = append(lines, data[start:i+1])
			} else {
				lines = append(lines, data[start:i])
			}
			i++
			start = i
		case '\r':
			if i+1 >= len(data) {
				// Might be half of a "\r\n" pair. Hold it.
				s.rest = data[start:]
				return lines
			}
			end := i + 1
			if data[i+1] == '\n' {
				end = i + 2
			}
			if s.preserve {
				lines = append(lines, data[start:end])
			} else {
				lines = append(lines, data[start:i])
			}
			i = end
			start = i
		default:
			_, size := utf8.DecodeRuneInString(data[i:])
			i += size
		}
	}

	s.rest = data[start:]
	return lines
}

// flush returns the remainder as a final line at end of stream. Without
// preservation a single trailing "\r" is dropped first. The second return is
// false when there is nothing to emit.
func (s *splitter) flush() (string, bool) {
	if s.rest == "" {
		return "", false
	}
	line := s.rest
	s.rest = ""
	if !s.preserve && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	return line, true
}
