// Config / LoadInventorydConfig) — a flat JSON-tagged struct plus
// ioutil-style whole-file read/unmarshal, no configuration framework.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"funahara/dtlshandshake/internal/wireformat"
)

const (
	DefaultHandshakeMessageTimeoutMS      = 5000
	DefaultConnectedStateResendTimeoutMS  = 240000
	DefaultHandshakeRepeatCount           = 5
	DefaultMaxTransmissionUnit            = 16384
)

// PSKEntry : 1件分の事前共有鍵エントリ
type PSKEntry struct {
	Identity string `json:"identity"`
	Secret   []byte `json:"secret"`
}

// PSKConfig : PSK設定(identity -> secretの対応、およびヒント)
// RFC4279参照
type PSKConfig struct {
	Entries []PSKEntry `json:"entries"`
	Hint    string     `json:"hint"`
}

// Lookup returns the secret for an identity, if configured.
func (p PSKConfig) Lookup(identity string) ([]byte, bool) {
	for _, e := range p.Entries {
		if e.Identity == identity {
			return e.Secret, true
		}
	}
	return nil, false
}

// CertificateConfig : 証明書ベーススイート用の設定
type CertificateConfig struct {
	ChainLabels       []string `json:"chainLabels"`
	PrivateKeyLabel   string   `json:"privateKeyLabel"`
	RootCALabels      []string `json:"rootCaLabels"`
}

type Config struct {
	IsTCP                           bool                      `json:"isTcp"`
	HandshakeMessageTimeoutMS       int                       `json:"handshakeMessageTimeoutMs"`
	DTLSConnectedStateResendTimeoutMS int                     `json:"dtlsConnectedStateResendTimeoutMs"`
	DTLSHandshakeMessageNoOfRepeat  int                       `json:"dtlsHandshakeMessageNoOfRepeat"`
	MaxTransmissionUnit             int                       `json:"maxTransmissionUnit"`
	CookieVerificationIsOn          bool                      `json:"cookieVerificationIsOn"`
	CipherSuites                    []wireformat.CipherSuite `json:"cipherSuites"`
	Certificate                     CertificateConfig         `json:"certificate"`
	PSK                             PSKConfig                 `json:"psk"`
}

func Default() *Config {
	return &Config{
		IsTCP:                             false,
		HandshakeMessageTimeoutMS:         DefaultHandshakeMessageTimeoutMS,
		DTLSConnectedStateResendTimeoutMS: DefaultConnectedStateResendTimeoutMS,
		DTLSHandshakeMessageNoOfRepeat:    DefaultHandshakeRepeatCount,
		MaxTransmissionUnit:               DefaultMaxTransmissionUnit,
		CookieVerificationIsOn:            false,
		CipherSuites:                      []wireformat.CipherSuite{wireformat.CipherSuitePSKWithAES128GCM},
	}
}

func (c *Config) HandshakeMessageTimeout() time.Duration {
	return time.Duration(c.HandshakeMessageTimeoutMS) * time.Millisecond
}

func (c *Config) ConnectedStateResendTimeout() time.Duration {
	return time.Duration(c.DTLSConnectedStateResendTimeoutMS) * time.Millisecond
}

// Load reads a JSON configuration file, the same shape as
// inventoryd.go:LoadInventorydConfig.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	c := Default()
	if err := json.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if len(c.CipherSuites) > wireformat.MaxCipherSuites {
		return nil, fmt.Errorf("config: %d cipher suites configured, max %d", len(c.CipherSuites), wireformat.MaxCipherSuites)
	}
	return c, nil
}

func Save(path string, c *Config) error {
	raw, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
