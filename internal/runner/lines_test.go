package runner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitter_strip_mode(t *testing.T) {
	s := &splitter{}

	lines := s.split("a\nb\r\nc")
	assert.Equal(t, []string{"a", "b"}, lines)

	line, ok := s.flush()
	require.True(t, ok)
	assert.Equal(t, "c", line)
}

func TestSplitter_preserve_mode(t *testing.T) {
	s := &splitter{preserve: true}

	lines := s.split("a\nb\r\nc")
	assert.Equal(t, []string{"a\n", "b\r\n"}, lines)

	line, ok := s.flush()
	require.True(t, ok)
	assert.Equal(t, "c", line)
}

func TestSplitter_lone_carriage_return_ends_line(t *testing.T) {
	t.Run("strip", func(t *testing.T) {
		s := &splitter{}
		assert.Equal(t, []string{"x"}, s.split("x\ry"))
		line, ok := s.flush()
		require.True(t, ok)
		assert.Equal(t, "y", line)
	})

	t.Run("preserve", func(t *testing.T) {
		s := &splitter{preserve: true}
		assert.Equal(t, []string{"x\r"}, s.split("x\ry"))
	})
}

func TestSplitter_holds_trailing_cr_for_possible_pair(t *testing.T) {
	s := &splitter{}

	// The CR might be half of a CRLF, so nothing is emitted yet.
	assert.Empty(t, s.split("a\r"))

	// The LF arrives with the next chunk and completes the pair.
	assert.Equal(t, []string{"a"}, s.split("\nb"))

	line, ok := s.flush()
	require.True(t, ok)
	assert.Equal(t, "b", line)
}

func TestSplitter_held_cr_followed_by_regular_char(t *testing.T) {
	s := &splitter{}

	assert.Empty(t, s.split("a\r"))
	assert.Equal(t, []string{"a"}, s.split("b"))

	line, ok := s.flush()
	require.True(t, ok)
	assert.Equal(t, "b", line)
}

func TestSplitter_flush(t *testing.T) {
	t.Run("empty remainder emits nothing", func(t *testing.T) {
		s := &splitter{}
		s.split("a\n")
		_, ok := s.flush()
		assert.False(t, ok)
	})

	t.Run("strip drops single trailing cr", func(t *testing.T) {
		s := &splitter{}
		s.split("a\nc\r")
		line, ok := s.flush()
		require.True(t, ok)
		assert.Equal(t, "c", line)
	})

	t.Run("preserve keeps trailing cr", func(t *testing.T) {
		s := &splitter{preserve: true}
		s.split("a\nc\r")
		line, ok := s.flush()
		require.True(t, ok)
		assert.Equal(t, "c\r", line)
	})
}

// Concatenating all preserved lines plus the flushed remainder reproduces the
// input exactly, no matter where the chunk boundaries fall.
func TestSplitter_lossless_at_any_boundary(t *testing.T) {
	input := "first\nsécond\r\nthïrd\rrest"

	for cut := 0; cut <= len(input); cut++ {
		s := &splitter{preserve: true}

		var got strings.Builder
		for _, line := range s.split(input[:cut]) {
			got.WriteString(line)
		}
		for _, line := range s.split(input[cut:]) {
			got.WriteString(line)
		}
		if line, ok := s.flush(); ok {
			got.WriteString(line)
		}

		assert.Equal(t, input, got.String(), "cut at byte %d", cut)
	}
}

func TestSplitter_multiple_lines_single_chunk(t *testing.T) {
	s := &splitter{}
	lines := s.split("one\ntwo\nthree\n")
	assert.Equal(t, []string{"one", "two", "three"}, lines)
	_, ok := s.flush()
	assert.False(t, ok)
}
