package plan

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIntegrity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		in        string
		algorithm string
		wantErr   error
	}{
		{name: "empty", in: ""},
		{name: "bare sha256", in: sha, algorithm: AlgorithmSHA256},
		{name: "prefixed sha256 upper", in: "SHA256:" + strings.ToUpper(sha), algorithm: AlgorithmSHA256},
		{name: "sha512", in: "sha512:" + strings.Repeat("ab", 64), algorithm: AlgorithmSHA512},
		{name: "blake2b", in: "blake2b:" + strings.Repeat("cd", 64), algorithm: AlgorithmBLAKE2b},
		{name: "unsupported", in: "md5:" + strings.Repeat("a", 32), wantErr: ErrUnsupportedAlgorithm},
		{name: "bad hex", in: "sha256:" + strings.Repeat("z", 64), wantErr: ErrInvalidHash},
		{name: "short", in: "sha256:abcd", wantErr: ErrInvalidHash},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseIntegrity(tt.in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.algorithm, got.Algorithm())
			assert.Equal(t, tt.in == "", got.IsZero())
		})
	}
}

func TestIntegrity_Sum(t *testing.T) {
	t.Parallel()

	empty, err := ParseIntegrity(sha)
	require.NoError(t, err)
	assert.Equal(t, sha, empty.Sum(nil))
	assert.True(t, empty.Matches(strings.ToUpper(sha)))
	assert.Equal(t, "sha256:"+sha, empty.String())

	b2, err := ParseIntegrity("blake2b:" + strings.Repeat("00", 64))
	require.NoError(t, err)
	assert.Len(t, b2.Sum([]byte("x")), 128)
	assert.False(t, b2.Matches(b2.Sum([]byte("x"))))

	assert.False(t, Integrity{}.Matches(sha))
	assert.False(t, empty.Matches(sha[:63]), "a truncated digest never matches")
	assert.False(t, empty.Matches(""))
}
