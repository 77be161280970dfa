package serverstates

import (
	"bytes"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"funahara/dtlshandshake/config"
	"funahara/dtlshandshake/internal/alert"
	"funahara/dtlshandshake/internal/handshakemsg"
	"funahara/dtlshandshake/internal/handshakestate"
	"funahara/dtlshandshake/internal/recordlayer"
	"funahara/dtlshandshake/internal/wireformat"
)

type recordSpy struct {
	sent [][]byte
}

func (r *recordSpy) Send(_ wireformat.ContentType, payload []byte) error {
	r.sent = append(r.sent, append([]byte(nil), payload...))
	return nil
}
func (r *recordSpy) InstallWriteSecurityParameters(recordlayer.SecurityParameters) error { return nil }
func (r *recordSpy) InstallReadSecurityParameters(recordlayer.SecurityParameters) error  { return nil }
func (r *recordSpy) Disconnect() error                                                  { return nil }

func newServerEnv(t *testing.T) (*handshakestate.Env, *recordSpy) {
	t.Helper()
	cfg := config.Default()
	cfg.DTLSHandshakeMessageNoOfRepeat = 3
	cfg.PSK.Entries = []config.PSKEntry{{Identity: "device-1", Secret: []byte("shared-secret")}}

	rec := &recordSpy{}
	env := &handshakestate.Env{
		Role:    wireformat.ConnectionEndServer,
		IsDTLS:  true,
		Config:  cfg,
		Rand:    rand.Reader,
		Manager: handshakemsg.NewManager(),
		Record:  rec,
		Sec:     &handshakestate.Security{OfferedSuites: []wireformat.CipherSuite{wireformat.CipherSuitePSKWithAES128GCM}},
	}
	return env, rec
}

// Regression test for the server-path RetriesLeft initialization bug: the
// very first OnEnter must seed RetriesLeft from config, mirroring the
// client's clienthello.go OnEnter.
func TestServerClientHelloOnEnterInitializesRetriesLeft(t *testing.T) {
	env, rec := newServerEnv(t)
	flow := &handshakestate.Flow{}

	clientHelloState{}.OnEnter(env, flow)

	require.False(t, flow.Failed())
	require.Equal(t, env.Config.DTLSHandshakeMessageNoOfRepeat, env.Sec.RetriesLeft)
	require.NotEmpty(t, rec.sent, "OnEnter must send ServerHello/ServerHelloDone (no ServerKeyExchange without a PSK hint)")
}

func TestServerClientHelloOnTimerRetransmitsWhileRetriesRemain(t *testing.T) {
	env, rec := newServerEnv(t)
	flow := &handshakestate.Flow{}
	clientHelloState{}.OnEnter(env, flow)
	require.False(t, flow.Failed())

	sentAfterEnter := len(rec.sent)
	before := env.Sec.RetriesLeft

	var armed time.Duration
	env.ArmTimer = func(d time.Duration) { armed = d }

	timerFlow := &handshakestate.Flow{}
	clientHelloState{}.OnTimer(env, timerFlow)

	require.False(t, timerFlow.Failed(), "a server handshake must retry, not fail, while retries remain")
	require.Equal(t, before-1, env.Sec.RetriesLeft)
	require.Greater(t, len(rec.sent), sentAfterEnter, "OnTimer must resend the last flight")
	require.Equal(t, env.Config.HandshakeMessageTimeout(), armed)

	// The retransmitted bytes must exactly equal the originally-sent flight.
	resent := rec.sent[sentAfterEnter:]
	require.NotEmpty(t, resent)
	for i, original := range rec.sent[:sentAfterEnter] {
		require.True(t, bytes.Equal(original, resent[i]))
	}
}

func TestServerClientHelloOnTimerFailsOnceRetriesExhausted(t *testing.T) {
	env, rec := newServerEnv(t)
	flow := &handshakestate.Flow{}
	clientHelloState{}.OnEnter(env, flow)
	require.False(t, flow.Failed())

	env.Sec.RetriesLeft = 0
	sentBefore := len(rec.sent)

	timerFlow := &handshakestate.Flow{}
	clientHelloState{}.OnTimer(env, timerFlow)

	require.True(t, timerFlow.Failed())
	require.Equal(t, alert.KindAlertHandshakeFailure, timerFlow.Err.Kind)
	require.Equal(t, sentBefore, len(rec.sent), "an exhausted retry budget must not resend")
}
