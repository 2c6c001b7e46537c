// Package charset decodes subprocess output of uncertain encoding into UTF-8.
//
// Command-line tools emit bytes in whatever encoding the user's locale and the
// data's history dictate. The Converter assumes UTF-8 until proven otherwise,
// then falls back through a candidate list, and finally degrades to
// replacement characters rather than failing the stream.
package charset

import (
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

// Converter incrementally decodes a byte stream into UTF-8 text. It retains
// an incomplete trailing multi-byte sequence between calls, so a character
// split across two reads decodes correctly once the second read arrives.
// A Converter is stateful and serves a single stream.
type Converter struct {
	fallbacks []encoding.Encoding
	dec       transform.Transformer // set once UTF-8 has been ruled out
	pending   []byte
}

// NewConverter returns a converter that decodes UTF-8 first and tries the
// given fallback encodings, in order, once the stream proves not to be UTF-8.
func NewConverter(fallbacks ...encoding.Encoding) *Converter {
	return &Converter{fallbacks: fallbacks}
}

// Decode converts the next chunk of raw bytes, returning as much decoded text
// as the accumulated input allows. Bytes that might be the prefix of a
// multi-byte character are held until the next call or Flush.
func (c *Converter) Decode(p []byte) string {
	data := make([]byte, 0, len(c.pending)+len(p))
	data = append(data, c.pending...)
	data = append(data, p...)
	c.pending = nil

	if c.dec == nil {
		valid, rest, invalid := scanUTF8(data)
		if !invalid {
			c.pending = rest
			return string(valid)
		}
		// The stream is not UTF-8. Everything emitted so far was valid
		// UTF-8 in any case; decode from the first offending byte on
		// with the next candidate.
		c.dec = c.nextFallback()
		return string(valid) + c.convert(rest, false)
	}

	return c.convert(data, false)
}

// Flush drains any held bytes at end of stream. An incomplete sequence that
// never completed comes out as replacement characters.
func (c *Converter) Flush() string {
	if len(c.pending) == 0 {
		return ""
	}
	data := c.pending
	c.pending = nil
	if c.dec == nil {
		return replaceInvalid(data)
	}
	return c.convert(data, true)
}

func (c *Converter) nextFallback() transform.Transformer {
	if len(c.fallbacks) == 0 {
		return nil
	}
	enc := c.fallbacks[0]
	c.fallbacks = c.fallbacks[1:]
	return enc.NewDecoder()
}

// convert decodes data with the current fallback candidate. A candidate that
// cannot validly decode the input is abandoned and the next one retries the
// same bytes; replacement characters appear only once every candidate has
// been ruled out.
func (c *Converter) convert(data []byte, atEOF bool) string {
	for {
		if c.dec == nil {
			return replaceInvalid(data)
		}
		text, rest, ok := decode(c.dec, data, atEOF)
		if ok || len(c.fallbacks) == 0 {
			c.pending = rest
			return text
		}
		c.dec = c.nextFallback()
	}
}

// decode runs data through dec. rest holds an incomplete trailing sequence
// when atEOF is false. ok is false when the candidate could not decode every
// byte: its output then contains replacement characters, which the caller
// accepts only with no candidates left to try.
func decode(dec transform.Transformer, data []byte, atEOF bool) (text string, rest []byte, ok bool) {
	dec.Reset()
	ok = true

	var sb strings.Builder
	out := make([]byte, 1024)
	src := data
	for len(src) > 0 {
		nDst, nSrc, err := dec.Transform(out, src, atEOF)
		sb.Write(out[:nDst])
		src = src[nSrc:]
		switch err {
		case nil, transform.ErrShortDst:
			// Keep going with whatever remains.
		case transform.ErrShortSrc:
			if atEOF {
				sb.WriteString(replaceInvalid(src))
				ok = false
			} else {
				rest = append([]byte(nil), src...)
			}
			src = nil
		default:
			sb.WriteRune(utf8.RuneError)
			src = src[1:]
			ok = false
		}
	}

	text = sb.String()
	// x/text decoders substitute U+FFFD for undecodable bytes without
	// reporting an error, so the output itself is the failure signal.
	if ok && strings.ContainsRune(text, utf8.RuneError) {
		ok = false
	}
	return text, rest, ok
}

// scanUTF8 splits data into a longest valid UTF-8 prefix and the rest.
// invalid is true when the rest starts with a byte sequence that can never
// become valid UTF-8; false means the rest is an incomplete trailing
// character still waiting for more bytes.
func scanUTF8(data []byte) (valid, rest []byte, invalid bool) {
	i := 0
	for i < len(data) {
		if data[i] < utf8.RuneSelf {
			i++
			continue
		}
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 {
			return data[:i], data[i:], !incompletePrefix(data[i:])
		}
		i += size
	}
	return data, nil, false
}

// incompletePrefix reports whether b looks like the start of a multi-byte
// UTF-8 character whose remaining bytes have not arrived yet.
func incompletePrefix(b []byte) bool {
	if len(b) == 0 || len(b) >= utf8.UTFMax {
		return false
	}
	var n int
	switch {
	case b[0]&0xE0 == 0xC0:
		n = 2
	case b[0]&0xF0 == 0xE0:
		n = 3
	case b[0]&0xF8 == 0xF0:
		n = 4
	default:
		return false
	}
	if len(b) >= n {
		return false
	}
	for _, c := range b[1:] {
		if c&0xC0 != 0x80 {
			return false
		}
	}
	return true
}

// replaceInvalid decodes data as UTF-8 with one replacement character per
// undecodable byte.
func replaceInvalid(data []byte) string {
	var sb strings.Builder
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		sb.WriteRune(r)
		data = data[size:]
	}
	return sb.String()
}

// Candidates returns the fallback encodings to try after UTF-8, derived from
// the process locale. Latin-9 closes the list so arbitrary single bytes still
// decode to something readable.
func Candidates() []encoding.Encoding {
	return LocaleCandidates(nil)
}

// LocaleCandidates is Candidates with an injectable environment lookup.
// A nil getenv uses the real process environment.
func LocaleCandidates(getenv func(string) string) []encoding.Encoding {
	if getenv == nil {
		getenv = os.Getenv
	}

	var out []encoding.Encoding
	if name := localeCharset(getenv); name != "" && !isUTF8Name(name) {
		if enc, err := ianaindex.IANA.Encoding(name); err == nil && enc != nil {
			out = append(out, enc)
		}
	}
	return append(out, charmap.ISO8859_15)
}

// localeCharset extracts the charset suffix from the first locale variable
// set, e.g. "en_US.ISO-8859-1@euro" yields "ISO-8859-1".
func localeCharset(getenv func(string) string) string {
	for _, key := range []string{"LC_ALL", "LC_CTYPE", "LANG"} {
		v := getenv(key)
		if v == "" {
			continue
		}
		if i := strings.IndexByte(v, '.'); i >= 0 {
			v = v[i+1:]
			if j := strings.IndexByte(v, '@'); j >= 0 {
				v = v[:j]
			}
			return v
		}
		return ""
	}
	return ""
}

func isUTF8Name(name string) bool {
	name = strings.ReplaceAll(name, "-", "")
	return strings.EqualFold(name, "utf8")
}
