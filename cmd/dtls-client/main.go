// dtls-client is a small demo CLI driving provider.NewClient end to end:
// dial, handshake, then relay stdin lines as application data, printing
// whatever the peer sends back.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"funahara/dtlshandshake/config"
	"funahara/dtlshandshake/internal/alert"
	"funahara/dtlshandshake/internal/wireformat"
	"funahara/dtlshandshake/provider"
)

func main() {
	var (
		addr        string
		configPath  string
		pskIdentity string
		psk         string
		useTCP      bool
	)
	flag.StringVar(&addr, "addr", "127.0.0.1:5684", "接続先アドレス(host:port)")
	flag.StringVar(&configPath, "config", "", "設定ファイルのパス(省略時はデフォルト設定)")
	flag.StringVar(&pskIdentity, "psk-identity", "", "PSK identity")
	flag.StringVar(&psk, "psk", "", "事前共有鍵(UTF-8)")
	flag.BoolVar(&useTCP, "tcp", false, "TLSで接続する(省略時はDTLS)")
	flag.Parse()

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "設定ファイルの読み出しに失敗しました:", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	cfg.IsTCP = useTCP
	if pskIdentity != "" && psk != "" {
		cfg.PSK = config.PSKConfig{Entries: []config.PSKEntry{{Identity: pskIdentity, Secret: []byte(psk)}}}
	}

	network := "udp"
	if cfg.IsTCP {
		network = "tcp"
	}
	conn, err := net.Dial(network, addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "接続に失敗しました:", err)
		os.Exit(1)
	}
	defer conn.Close()

	cb := &cliCallbacks{done: make(chan struct{})}
	p := provider.NewClient(conn, cfg, cb, cliDiagnostics{}, provider.Capabilities{})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HandshakeMessageTimeout()*time.Duration(cfg.DTLSHandshakeMessageNoOfRepeat+1))
	defer cancel()
	if err := p.Connect(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "ハンドシェイクに失敗しました:", err)
		os.Exit(1)
	}
	defer p.Close()

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if err := p.Send(scanner.Bytes()); err != nil {
				fmt.Fprintln(os.Stderr, "送信に失敗しました:", err)
				return
			}
		}
		p.Disconnect(true)
	}()

	<-cb.done
}

type cliCallbacks struct {
	done chan struct{}
}

func (c *cliCallbacks) OnConnected() {
	fmt.Fprintln(os.Stderr, "接続しました。標準入力の内容を送信します")
}

func (c *cliCallbacks) OnDisconnected(description string, code alert.Kind) {
	fmt.Fprintf(os.Stderr, "切断しました: %s (%s)\n", description, code)
	close(c.done)
}

func (c *cliCallbacks) OnApplicationData(payload []byte) {
	fmt.Printf("%s\n", payload)
}

type cliDiagnostics struct{}

func (cliDiagnostics) OnHandshakeComplete(suite wireformat.CipherSuite, elapsed time.Duration, extensions []uint16) {
	fmt.Fprintf(os.Stderr, "negotiated suite=%s elapsed=%s extensions=%v\n", suite, elapsed, extensions)
}
