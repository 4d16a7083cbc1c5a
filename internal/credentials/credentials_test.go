package credentials

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	dErrors "concierge/pkg/domain-errors"
)

// countingReader hands out sequential bytes and records how many were read.
type countingReader struct {
	next byte
	read int
}

func (r *countingReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = r.next
		r.next++
	}
	r.read += len(p)
	return len(p), nil
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestGenerate_SequentialEntropyYieldsAlphabetPrefix(t *testing.T) {
	for _, n := range []int{1, 12, 32, len(Alphabet)} {
		g := NewGeneratorWithEntropy(&countingReader{})
		got, err := g.Generate(n)
		require.NoError(t, err)
		assert.Equal(t, Alphabet[:n], got, "length %d", n)
	}
}

func TestGenerate_WrapsModuloAlphabet(t *testing.T) {
	entropy := bytes.NewReader([]byte{byte(len(Alphabet)), byte(len(Alphabet) + 1), 255})
	got, err := NewGeneratorWithEntropy(entropy).Generate(3)
	require.NoError(t, err)
	assert.Equal(t, string([]byte{Alphabet[0], Alphabet[1], Alphabet[255%len(Alphabet)]}), got)
}

func TestGenerate_ZeroLengthConsumesNoEntropy(t *testing.T) {
	r := &countingReader{}
	got, err := NewGeneratorWithEntropy(r).Generate(0)
	require.NoError(t, err)
	assert.Equal(t, "", got)
	assert.Equal(t, 0, r.read)
}

func TestGenerate_NegativeLength(t *testing.T) {
	_, err := NewGenerator().Generate(-1)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestGenerate_EntropyFailure(t *testing.T) {
	_, err := NewGeneratorWithEntropy(failingReader{}).Generate(DefaultLength)
	require.Error(t, err)
}

func TestGenerate_DefaultGeneratorUsesAlphabet(t *testing.T) {
	got, err := NewGenerator().Generate(DefaultLength)
	require.NoError(t, err)
	require.Len(t, got, DefaultLength)
	for _, c := range got {
		assert.True(t, strings.ContainsRune(Alphabet, c), "unexpected character %q", c)
	}
}

func TestHasher(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)

	t.Run("digest differs from plaintext and verifies", func(t *testing.T) {
		digest, err := h.Hash("aB1!cDe2$fGh")
		require.NoError(t, err)
		assert.NotEqual(t, "aB1!cDe2$fGh", digest)
		require.NoError(t, Verify("aB1!cDe2$fGh", digest))
	})

	t.Run("wrong password does not verify", func(t *testing.T) {
		digest, err := h.Hash("correct-horse")
		require.NoError(t, err)
		err = Verify("battery-staple", digest)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("empty password rejected", func(t *testing.T) {
		_, err := h.Hash("")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("out of range cost falls back to default", func(t *testing.T) {
		assert.Equal(t, DefaultCost, NewHasher(0).cost)
		assert.Equal(t, DefaultCost, NewHasher(bcrypt.MaxCost+1).cost)
	})
}
