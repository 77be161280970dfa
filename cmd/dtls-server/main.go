// dtls-server is a small demo CLI driving provider.NewServer: it accepts
// connections (TCP for TLS, demultiplexed UDP datagrams for DTLS), runs
// the handshake, and echoes whatever application data each peer sends
// back.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"funahara/dtlshandshake/config"
	"funahara/dtlshandshake/internal/alert"
	"funahara/dtlshandshake/internal/wireformat"
	"funahara/dtlshandshake/provider"
)

func main() {
	var (
		listenAddr string
		configPath string
		useTCP     bool
	)
	flag.StringVar(&listenAddr, "listen", ":5684", "待受アドレス(host:port)")
	flag.StringVar(&configPath, "config", "", "設定ファイルのパス(省略時はデフォルト設定)")
	flag.BoolVar(&useTCP, "tcp", false, "TLSで待ち受ける(省略時はDTLS)")
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
	cfg.CookieVerificationIsOn = !useTCP

	verificationSecret := provider.NewVerificationSecret()

	var err error
	if cfg.IsTCP {
		err = serveTCP(listenAddr, cfg, verificationSecret)
	} else {
		err = serveUDP(listenAddr, cfg, verificationSecret)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveTCP(addr string, cfg *config.Config, verificationSecret []byte) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	fmt.Fprintln(os.Stderr, "TLS待ち受け中:", addr)
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go runServerConn(conn, cfg, verificationSecret)
	}
}

// serveUDP demultiplexes inbound datagrams by source address onto one
// synthetic net.Conn per peer (udpPeerConn below), since DTLS has no
// listen/accept distinction at the socket layer the way TCP does.
func serveUDP(addr string, cfg *config.Config, verificationSecret []byte) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}
	socket, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	fmt.Fprintln(os.Stderr, "DTLS待ち受け中:", addr)

	mux := &udpMux{socket: socket, peers: make(map[string]*udpPeerConn)}
	buf := make([]byte, 65535)
	for {
		n, from, err := socket.ReadFromUDP(buf)
		if err != nil {
			return err
		}
		datagram := append([]byte{}, buf[:n]...)
		peer := mux.peerFor(from)
		if peer.isNew {
			peer.isNew = false
			go runServerConn(peer, cfg, verificationSecret)
		}
		peer.deliver(datagram)
	}
}

type udpMux struct {
	socket *net.UDPConn

	mu    sync.Mutex
	peers map[string]*udpPeerConn
}

func (m *udpMux) peerFor(addr *net.UDPAddr) *udpPeerConn {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := addr.String()
	if p, ok := m.peers[key]; ok {
		return p
	}
	p := &udpPeerConn{
		socket: m.socket,
		remote: addr,
		inbox:  make(chan []byte, 16),
		closed: make(chan struct{}),
		isNew:  true,
	}
	m.peers[key] = p
	return p
}

// udpPeerConn is a minimal net.Conn synthesised for one DTLS peer sharing
// the server's single listening UDP socket: Read drains datagrams the mux
// routed here, Write sends back to the remembered remote address.
type udpPeerConn struct {
	socket *net.UDPConn
	remote *net.UDPAddr
	inbox  chan []byte
	isNew  bool

	closeOnce sync.Once
	closed    chan struct{}
}

func (c *udpPeerConn) deliver(datagram []byte) {
	select {
	case c.inbox <- datagram:
	default:
		// peer is producing faster than the handshake consumes; drop
		// rather than block the shared mux read loop.
	}
}

func (c *udpPeerConn) Read(b []byte) (int, error) {
	select {
	case datagram := <-c.inbox:
		return copy(b, datagram), nil
	case <-c.closed:
		return 0, net.ErrClosed
	}
}

func (c *udpPeerConn) Write(b []byte) (int, error) { return c.socket.WriteToUDP(b, c.remote) }
func (c *udpPeerConn) Close() error {
	c.closeOnce.Do(func() {
		if c.closed != nil {
			close(c.closed)
		}
	})
	return nil
}
func (c *udpPeerConn) LocalAddr() net.Addr                { return c.socket.LocalAddr() }
func (c *udpPeerConn) RemoteAddr() net.Addr               { return c.remote }
func (c *udpPeerConn) SetDeadline(t time.Time) error      { return nil }
func (c *udpPeerConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *udpPeerConn) SetWriteDeadline(t time.Time) error { return nil }

func runServerConn(conn net.Conn, cfg *config.Config, verificationSecret []byte) {
	cb := &echoCallbacks{remote: conn.RemoteAddr().String()}
	p := provider.NewServer(conn, cfg, cb, serverDiagnostics{remote: cb.remote}, provider.Capabilities{}, verificationSecret)
	cb.provider = p
	if err := p.Connect(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s: handshake failed: %v\n", cb.remote, err)
	}
}

type echoCallbacks struct {
	provider provider.Provider
	remote   string
}

func (c *echoCallbacks) OnConnected() {
	fmt.Fprintf(os.Stderr, "%s: 接続しました\n", c.remote)
}

func (c *echoCallbacks) OnDisconnected(description string, code alert.Kind) {
	fmt.Fprintf(os.Stderr, "%s: 切断しました: %s (%s)\n", c.remote, description, code)
}

func (c *echoCallbacks) OnApplicationData(payload []byte) {
	fmt.Fprintf(os.Stderr, "%s: %s\n", c.remote, payload)
	if c.provider != nil {
		_ = c.provider.Send(payload)
	}
}

type serverDiagnostics struct {
	remote string
}

func (d serverDiagnostics) OnHandshakeComplete(suite wireformat.CipherSuite, elapsed time.Duration, extensions []uint16) {
	fmt.Fprintf(os.Stderr, "%s: negotiated suite=%s elapsed=%s\n", d.remote, suite, elapsed)
}
