package handshakestate

import (
	"funahara/dtlshandshake/internal/handshakemsg"
	"funahara/dtlshandshake/internal/recordlayer"
	"funahara/dtlshandshake/internal/suite"
	"funahara/dtlshandshake/internal/wireformat"
)

func DeriveSecurityParameters(env *Env, descriptor suite.Descriptor) {
	env.Sec.MasterSecret = suite.MasterSecret(descriptor.Hash, env.Sec.PreMasterSecret, env.Sec.ClientRandom[:], env.Sec.ServerRandom[:])
	cMAC, sMAC, cKey, sKey, cIV, sIV := suite.KeyBlock(descriptor.Hash, env.Sec.MasterSecret, env.Sec.ClientRandom[:], env.Sec.ServerRandom[:], descriptor.Sizes)

	base := recordlayer.SecurityParameters{
		CipherSuite:    descriptor.ID,
		ClientRandom:   append([]byte{}, env.Sec.ClientRandom[:]...),
		ServerRandom:   append([]byte{}, env.Sec.ServerRandom[:]...),
		MasterSecret:   env.Sec.MasterSecret,
		ClientWriteKey: cKey,
		ServerWriteKey: sKey,
		ClientWriteIV:  cIV,
		ServerWriteIV:  sIV,
		ClientWriteMAC: cMAC,
		ServerWriteMAC: sMAC,
	}

	write, read := base, base
	if env.Role == wireformat.ConnectionEndClient {
		write.ConnectionEnd = wireformat.ConnectionEndClient
		read.ConnectionEnd = wireformat.ConnectionEndServer
	} else {
		write.ConnectionEnd = wireformat.ConnectionEndServer
		read.ConnectionEnd = wireformat.ConnectionEndClient
	}
	env.Sec.NextWrite = write
	env.Sec.NextRead = read
}

func ComputeVerifyData(env *Env, descriptor suite.Descriptor, isClient bool) [handshakemsg.VerifyDataLength]byte {
	transcript := env.Manager.SerializeIncludedFor(env.Role, descriptor.ID)
	vd := suite.VerifyData(descriptor.Hash, env.Sec.MasterSecret, isClient, transcript)
	var out [handshakemsg.VerifyDataLength]byte
	copy(out[:], vd)
	return out
}
