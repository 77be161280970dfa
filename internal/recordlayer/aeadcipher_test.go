package recordlayer

import (
	"testing"

	"funahara/dtlshandshake/internal/wireformat"

	"github.com/stretchr/testify/require"
)

func TestAEADBoxRoundTrip(t *testing.T) {
	key := make([]byte, 16)
	iv := make([]byte, 4)
	for i := range key {
		key[i] = byte(i)
	}
	for i := range iv {
		iv[i] = byte(0xA0 + i)
	}

	box, err := NewAEADBox(key, iv)
	require.NoError(t, err)

	plaintext := []byte("application data payload")
	sealed := box.Seal(1, 7, wireformat.ContentTypeApplicationData, wireformat.VersionDTLS12, plaintext)

	opened, err := box.Open(1, 7, wireformat.ContentTypeApplicationData, wireformat.VersionDTLS12, sealed)
	require.NoError(t, err)
	require.Equal(t, plaintext, opened)
}

func TestAEADBoxRejectsTamperedRecord(t *testing.T) {
	key := make([]byte, 16)
	iv := make([]byte, 4)
	box, err := NewAEADBox(key, iv)
	require.NoError(t, err)

	sealed := box.Seal(0, 0, wireformat.ContentTypeApplicationData, wireformat.VersionDTLS12, []byte("hello"))
	sealed[len(sealed)-1] ^= 0xFF

	_, err = box.Open(0, 0, wireformat.ContentTypeApplicationData, wireformat.VersionDTLS12, sealed)
	require.Error(t, err)
}

func TestAEADBoxWrongSequenceFailsAuthentication(t *testing.T) {
	key := make([]byte, 16)
	iv := make([]byte, 4)
	box, err := NewAEADBox(key, iv)
	require.NoError(t, err)

	sealed := box.Seal(0, 1, wireformat.ContentTypeApplicationData, wireformat.VersionDTLS12, []byte("hello"))
	_, err = box.Open(0, 2, wireformat.ContentTypeApplicationData, wireformat.VersionDTLS12, sealed)
	require.Error(t, err)
}
