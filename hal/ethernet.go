package hal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/wtyler2505/roverhal/internal/logging"
	"github.com/wtyler2505/roverhal/model"
)

// EthernetAdapter speaks TCP or UDP through the standard net package. Like
// CAN it is a packet transport: reader goroutines fan inbound data into a
// bounded queue drained by Read. An unexpected peer close is detected by
// the reader, surfaced through check, and downgrades the adapter to Error
// on the next health tick.
type EthernetAdapter struct {
	*base
	cfg EthernetConfig

	connMu   sync.Mutex
	conn     net.Conn     // client role, or accepted server conn
	udpConn  *net.UDPConn // udp server role
	listener net.Listener // tcp server role
	lastPeer string       // reply target for udp server writes

	queue *packetQueue

	readerMu  sync.Mutex
	readerErr error
	readerWg  sync.WaitGroup
}

// NewEthernetAdapter builds a TCP/UDP adapter from a validated config.
func NewEthernetAdapter(id string, cfg EthernetConfig, log logging.Logger) *EthernetAdapter {
	a := &EthernetAdapter{cfg: cfg}
	a.base = newBase(id, model.ProtocolEthernet, cfg.CommonConfig, a, log)
	a.queue = newPacketQueue(a.common.ReadQueueSize, a.log)
	return a
}

func (a *EthernetAdapter) addr() string {
	return net.JoinHostPort(a.cfg.Host, strconv.Itoa(a.cfg.Port))
}

func (a *EthernetAdapter) open(ctx context.Context) (map[string]any, error) {
	a.readerMu.Lock()
	a.readerErr = nil
	a.readerMu.Unlock()

	info := map[string]any{
		"transport": a.cfg.Transport,
		"role":      a.roleOrDefault(),
	}

	switch {
	case a.cfg.Transport == "tcp" && a.roleOrDefault() == "server":
		lc := net.ListenConfig{}
		ln, err := lc.Listen(ctx, "tcp", a.listenAddr())
		if err != nil {
			return nil, fmt.Errorf("listen %s: %w", a.listenAddr(), err)
		}
		a.connMu.Lock()
		a.listener = ln
		a.connMu.Unlock()
		a.readerWg.Add(1)
		go a.acceptLoop(ln)
		info["local_addr"] = ln.Addr().String()

	case a.cfg.Transport == "udp" && a.roleOrDefault() == "server":
		udpAddr, err := net.ResolveUDPAddr("udp", a.listenAddr())
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", a.listenAddr(), err)
		}
		conn, err := net.ListenUDP("udp", udpAddr)
		if err != nil {
			return nil, fmt.Errorf("listen udp %s: %w", a.listenAddr(), err)
		}
		a.connMu.Lock()
		a.udpConn = conn
		a.connMu.Unlock()
		a.readerWg.Add(1)
		go a.udpReadLoop(conn)
		info["local_addr"] = conn.LocalAddr().String()

	default: // client
		timeout := a.cfg.ConnectTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		dialer := net.Dialer{Timeout: timeout}
		conn, err := dialer.DialContext(ctx, a.cfg.Transport, a.addr())
		if err != nil {
			return nil, fmt.Errorf("dial %s %s: %w", a.cfg.Transport, a.addr(), err)
		}
		a.connMu.Lock()
		a.conn = conn
		a.connMu.Unlock()
		a.readerWg.Add(1)
		go a.readLoop(conn)
		info["remote_addr"] = conn.RemoteAddr().String()
	}

	return info, nil
}

func (a *EthernetAdapter) roleOrDefault() string {
	if a.cfg.Role == "" {
		return "client"
	}
	return a.cfg.Role
}

func (a *EthernetAdapter) listenAddr() string {
	return net.JoinHostPort(a.cfg.Host, strconv.Itoa(a.cfg.Port))
}

func (a *EthernetAdapter) close() error {
	a.connMu.Lock()
	conn, udp, ln := a.conn, a.udpConn, a.listener
	a.conn, a.udpConn, a.listener = nil, nil, nil
	a.connMu.Unlock()

	var errs []error
	if conn != nil {
		errs = append(errs, conn.Close())
	}
	if udp != nil {
		errs = append(errs, udp.Close())
	}
	if ln != nil {
		errs = append(errs, ln.Close())
	}
	a.readerWg.Wait()
	a.queue.Drain()
	return errors.Join(errs...)
}

// check reports the first reader failure (peer reset, socket closed).
func (a *EthernetAdapter) check() error {
	a.readerMu.Lock()
	defer a.readerMu.Unlock()
	return a.readerErr
}

func (a *EthernetAdapter) setReaderErr(err error) {
	a.readerMu.Lock()
	if a.readerErr == nil {
		a.readerErr = err
	}
	a.readerMu.Unlock()
}

// acceptLoop serves the tcp server role; each accepted peer gets its own
// reader feeding the shared queue. The most recent peer is the write
// target.
func (a *EthernetAdapter) acceptLoop(ln net.Listener) {
	defer a.readerWg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			// Listener closed during Disconnect is the normal exit.
			if !errors.Is(err, net.ErrClosed) {
				a.setReaderErr(fmt.Errorf("accept: %w", err))
			}
			return
		}
		a.connMu.Lock()
		a.conn = conn
		a.connMu.Unlock()
		a.readerWg.Add(1)
		go a.readLoop(conn)
	}
}

func (a *EthernetAdapter) readLoop(conn net.Conn) {
	defer a.readerWg.Done()
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			pkt := model.NewPacket(model.DirectionRX, buf[:n]).
				WithMeta(model.MetaPeerAddress, conn.RemoteAddr().String())
			if a.queue.Push(pkt) {
				a.noteRead(n)
				a.emitData(pkt)
			}
		}
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				a.setReaderErr(fmt.Errorf("socket read: %w", err))
			}
			return
		}
	}
}

func (a *EthernetAdapter) udpReadLoop(conn *net.UDPConn) {
	defer a.readerWg.Done()
	buf := make([]byte, 4096)
	for {
		n, peer, err := conn.ReadFromUDP(buf)
		if n > 0 {
			a.connMu.Lock()
			a.lastPeer = peer.String()
			a.connMu.Unlock()
			pkt := model.NewPacket(model.DirectionRX, buf[:n]).
				WithMeta(model.MetaPeerAddress, peer.String())
			if a.queue.Push(pkt) {
				a.noteRead(n)
				a.emitData(pkt)
			}
		}
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				a.setReaderErr(fmt.Errorf("udp read: %w", err))
			}
			return
		}
	}
}

// Write sends the payload to the connected peer. For the udp server role
// the target is the peer_addr metadata key, defaulting to the most recent
// sender.
func (a *EthernetAdapter) Write(ctx context.Context, pkt *model.DataPacket) error {
	if err := a.requireConnected("write"); err != nil {
		return err
	}

	a.connMu.Lock()
	conn, udp, lastPeer := a.conn, a.udpConn, a.lastPeer
	a.connMu.Unlock()

	switch {
	case udp != nil:
		target, ok := pkt.MetaString(model.MetaPeerAddress)
		if !ok {
			target = lastPeer
		}
		if target == "" {
			return newTransmissionError(a.id, "write", fmt.Errorf("no udp peer to write to"))
		}
		peer, err := net.ResolveUDPAddr("udp", target)
		if err != nil {
			return newTransmissionError(a.id, "write", err)
		}
		n, err := udp.WriteToUDP(pkt.Payload, peer)
		if err != nil {
			return newTransmissionError(a.id, "write", err)
		}
		a.noteWrite(n)
		return nil

	case conn != nil:
		if deadline, ok := ctx.Deadline(); ok {
			_ = conn.SetWriteDeadline(deadline)
		}
		n, err := conn.Write(pkt.Payload)
		if err != nil {
			return newTransmissionError(a.id, "write", err)
		}
		a.noteWrite(n)
		return nil

	default:
		return newTransmissionError(a.id, "write", fmt.Errorf("no peer connected"))
	}
}

// Read pops the oldest inbound datagram or stream chunk.
func (a *EthernetAdapter) Read(ctx context.Context, opts ReadOptions) (*model.DataPacket, error) {
	if err := a.requireConnected("read"); err != nil {
		return nil, err
	}
	pkt, err := a.queue.Pop(ctx, a.readTimeout(opts))
	if err != nil {
		return nil, newTransmissionError(a.id, "read", err)
	}
	if opts.Size > 0 && len(pkt.Payload) > opts.Size {
		pkt.Payload = pkt.Payload[:opts.Size]
	}
	return pkt, nil
}
