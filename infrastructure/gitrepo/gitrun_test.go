package gitrepo

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTailBuffer(t *testing.T) {
	t.Parallel()

	t.Run("should keep everything when fewer lines than the limit", func(t *testing.T) {
		t.Parallel()

		// given
		buffer := &tailBuffer{}

		// when
		_, err := buffer.Write([]byte("one\ntwo\nthree\n"))

		// then
		assert.NoError(t, err)
		assert.Equal(t, "one\ntwo\nthree", buffer.Excerpt())
	})

	t.Run("should keep only the trailing lines past the limit", func(t *testing.T) {
		t.Parallel()

		// given
		buffer := &tailBuffer{}
		for i := 1; i <= excerptLines+5; i++ {
			fmt.Fprintf(buffer, "line-%d\n", i)
		}

		// when
		excerpt := buffer.Excerpt()

		// then
		lines := strings.Split(excerpt, "\n")
		assert.Len(t, lines, excerptLines)
		assert.Equal(t, "line-6", lines[0])
		assert.Equal(t, fmt.Sprintf("line-%d", excerptLines+5), lines[len(lines)-1])
	})

	t.Run("should include a trailing partial line", func(t *testing.T) {
		t.Parallel()

		// given
		buffer := &tailBuffer{}

		// when
		_, _ = buffer.Write([]byte("complete\npart"))

		// then
		assert.Equal(t, "complete\npart", buffer.Excerpt())
	})

	t.Run("should handle writes split across line boundaries", func(t *testing.T) {
		t.Parallel()

		// given
		buffer := &tailBuffer{}

		// when
		_, _ = buffer.Write([]byte("he"))
		_, _ = buffer.Write([]byte("llo\nwor"))
		_, _ = buffer.Write([]byte("ld\n"))

		// then
		assert.Equal(t, "hello\nworld", buffer.Excerpt())
	})
}

func TestIndent(t *testing.T) {
	t.Parallel()

	t.Run("should indent every line by two spaces", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, "  a\n  b", indent("a\nb"))
	})

	t.Run("should leave an empty string alone", func(t *testing.T) {
		t.Parallel()

		assert.Empty(t, indent(""))
	})
}
