package suite

import (
	"testing"

	"funahara/dtlshandshake/internal/wireformat"

	"github.com/stretchr/testify/require"
)

func TestPRFDeterministic(t *testing.T) {
	secret := []byte("pre master secret material")
	seed := []byte("client-random-32-bytes---server-random-32-bytes")

	out1 := PRF(HashSHA256, secret, []byte("master secret"), seed, 48)
	out2 := PRF(HashSHA256, secret, []byte("master secret"), seed, 48)
	require.Equal(t, out1, out2, "PRF must be a pure function of its inputs")
	require.Len(t, out1, 48)
}

func TestPRFDifferentLabelsDiverge(t *testing.T) {
	secret := []byte("secret")
	seed := []byte("seed")
	a := PRF(HashSHA256, secret, []byte("client finished"), seed, 12)
	b := PRF(HashSHA256, secret, []byte("server finished"), seed, 12)
	require.NotEqual(t, a, b)
}

func TestMasterSecretAndKeyBlockLength(t *testing.T) {
	pre := PreMasterSecretFromPSK([]byte("shared-secret"))
	clientRandom := make([]byte, 32)
	serverRandom := make([]byte, 32)
	ms := MasterSecret(HashSHA256, pre, clientRandom, serverRandom)
	require.Len(t, ms, 48)

	cMAC, sMAC, cKey, sKey, cIV, sIV := KeyBlock(HashSHA256, ms, clientRandom, serverRandom, KeySizes{MACLength: 0, KeyLength: 16, IVLength: 4})
	require.Len(t, cMAC, 0)
	require.Len(t, sMAC, 0)
	require.Len(t, cKey, 16)
	require.Len(t, sKey, 16)
	require.Len(t, cIV, 4)
	require.Len(t, sIV, 4)
	require.NotEqual(t, cKey, sKey, "client/server write keys must differ")
}

func TestVerifyDataLengthAndDirection(t *testing.T) {
	ms := make([]byte, 48)
	transcript := []byte("ClientHello||ServerHello||...")
	clientVD := VerifyData(HashSHA256, ms, true, transcript)
	serverVD := VerifyData(HashSHA256, ms, false, transcript)
	require.Len(t, clientVD, 12)
	require.Len(t, serverVD, 12)
	require.NotEqual(t, clientVD, serverVD)
}

func TestPreMasterSecretFromPSKShape(t *testing.T) {
	psk := []byte("0123456789ab")
	pre := PreMasterSecretFromPSK(psk)
	// uint16(len) || zeros(len) || uint16(len) || psk
	require.Equal(t, byte(0), pre[0])
	require.Equal(t, byte(len(psk)), pre[1])
	require.Equal(t, make([]byte, len(psk)), pre[2:2+len(psk)])
	require.Equal(t, byte(len(psk)), pre[2+len(psk)+1])
	require.Equal(t, psk, pre[4+len(psk):])
}

func TestNegotiateFirstServerPreferenceWins(t *testing.T) {
	serverPref := []wireformat.CipherSuite{wireformat.CipherSuitePSKWithAES128GCM, wireformat.CipherSuitePSKWithNullSHA256}
	offered := []wireformat.CipherSuite{wireformat.CipherSuitePSKWithNullSHA256, wireformat.CipherSuitePSKWithAES128GCM}

	selected, ok := Negotiate(serverPref, offered)
	require.True(t, ok)
	require.Equal(t, wireformat.CipherSuitePSKWithAES128GCM, selected)
	require.True(t, ClientAccepts(selected, offered))
}

func TestNegotiateNoOverlapFails(t *testing.T) {
	_, ok := Negotiate([]wireformat.CipherSuite{wireformat.CipherSuitePSKWithAES128GCM}, []wireformat.CipherSuite{wireformat.CipherSuitePSKWithNullSHA256})
	require.False(t, ok)
}
