package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/net/ipv4"

	"godiscover/internal/telemetry"
)

// readTimeout bounds each blocking read so Release is never stuck behind a
// quiet network for more than this long.
const readTimeout = 5 * time.Second

// maxDatagram is the largest datagram the listener accepts.
const maxDatagram = 64 * 1024

// MessageFunc handles one inbound datagram. ip is the sender address as
// dotted-quad text and buf is a fresh copy owned by the callee.
type MessageFunc func(ip string, port uint16, buf []byte)

// ErrorFunc reports asynchronous socket failures.
type ErrorFunc func(err error)

// Sock exchanges UDP datagrams in one of three modes selected at bind time:
// broadcast, multicast or a fixed unicast destination list. Sends are
// fire-and-forget; reception is delivered through the message callback.
type Sock struct {
	mu        sync.Mutex
	conn      *net.UDPConn
	dests     []*net.UDPAddr
	onMessage MessageFunc
	onError   ErrorFunc
	done      chan struct{}
	wg        sync.WaitGroup
	released  bool
}

// New creates an unbound sock instance.
func New() *Sock {
	return &Sock{done: make(chan struct{})}
}

// OnMessage registers the single delivery callback.
func (s *Sock) OnMessage(fn MessageFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMessage = fn
}

// OnError registers the error callback.
func (s *Sock) OnError(fn ErrorFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

// BindBroadcast binds address:port and directs outbound datagrams to the
// broadcast address on the same port.
func (s *Sock) BindBroadcast(address string, port uint16, reuseAddr bool, broadcast string) error {
	conn, err := listenUDP(address, port, reuseAddr)
	if err != nil {
		return s.fail(fmt.Errorf("sock: unable to bind socket: %w", err))
	}
	if err := setBroadcast(conn); err != nil {
		conn.Close()
		return s.fail(fmt.Errorf("sock: unable to set socket option SO_BROADCAST: %w", err))
	}
	dst := net.ParseIP(broadcast)
	if dst == nil {
		conn.Close()
		return s.fail(fmt.Errorf("sock: invalid broadcast address %q", broadcast))
	}
	return s.ready(conn, []*net.UDPAddr{{IP: dst, Port: int(port)}})
}

// BindMulticast binds address:port, joins the multicast group and directs
// outbound datagrams to the group on the same port.
func (s *Sock) BindMulticast(address string, port uint16, reuseAddr bool, group string, ttl uint8) error {
	grp := net.ParseIP(group)
	if grp == nil || !grp.IsMulticast() {
		return s.fail(fmt.Errorf("sock: invalid multicast group %q", group))
	}
	conn, err := listenUDP(address, port, reuseAddr)
	if err != nil {
		return s.fail(fmt.Errorf("sock: unable to bind socket: %w", err))
	}
	pc := ipv4.NewPacketConn(conn)
	if err := pc.JoinGroup(nil, &net.UDPAddr{IP: grp}); err != nil {
		conn.Close()
		return s.fail(fmt.Errorf("sock: unable to set socket option IP_ADD_MEMBERSHIP: %w", err))
	}
	if err := pc.SetMulticastTTL(int(ttl)); err != nil {
		conn.Close()
		return s.fail(fmt.Errorf("sock: unable to set socket option IP_MULTICAST_TTL: %w", err))
	}
	return s.ready(conn, []*net.UDPAddr{{IP: grp, Port: int(port)}})
}

// BindUnicast binds address:port and directs outbound datagrams to each
// address of the comma-separated unicast list, in list order. An empty list
// is accepted; sends then leave nothing on the wire.
func (s *Sock) BindUnicast(address string, port uint16, reuseAddr bool, unicast string) error {
	var dests []*net.UDPAddr
	for _, part := range strings.Split(unicast, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		dst := net.ParseIP(part)
		if dst == nil {
			return s.fail(fmt.Errorf("sock: invalid unicast address %q", part))
		}
		dests = append(dests, &net.UDPAddr{IP: dst, Port: int(port)})
	}
	conn, err := listenUDP(address, port, reuseAddr)
	if err != nil {
		return s.fail(fmt.Errorf("sock: unable to bind socket: %w", err))
	}
	return s.ready(conn, dests)
}

// Send transmits the buffer to every configured destination from an
// ephemeral goroutine. Per-destination failures are swallowed; UDP is
// best-effort and datagrams are sent at most once.
func (s *Sock) Send(buf []byte) {
	s.mu.Lock()
	conn, dests, released := s.conn, s.dests, s.released
	s.mu.Unlock()
	if conn == nil || released {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for _, dst := range dests {
			if _, err := conn.WriteToUDP(buf, dst); err != nil {
				telemetry.SendErrors.Inc()
				continue
			}
			telemetry.DatagramsSent.Inc()
		}
	}()
}

// LocalAddr returns the bound address, or nil before a successful bind.
func (s *Sock) LocalAddr() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	addr, _ := s.conn.LocalAddr().(*net.UDPAddr)
	return addr
}

// Release stops the listener, closes the socket and waits for in-flight
// work. The bounded read deadline caps shutdown latency.
func (s *Sock) Release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	conn := s.conn
	close(s.done)
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	s.wg.Wait()
}

// ready installs the bound socket and starts the listener goroutine.
func (s *Sock) ready(conn *net.UDPConn, dests []*net.UDPAddr) error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		conn.Close()
		return errors.New("sock: released")
	}
	s.conn = conn
	s.dests = dests
	s.mu.Unlock()

	s.wg.Add(1)
	go s.listen(conn)
	return nil
}

// listen reads one datagram per iteration and hands each to the message
// callback on its own goroutine so a slow consumer never blocks reception.
func (s *Sock) listen(conn *net.UDPConn) {
	defer s.wg.Done()
	buf := make([]byte, maxDatagram)
	for {
		select {
		case <-s.done:
			return
		default:
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.reportError(fmt.Errorf("sock: read failed: %w", err))
			continue
		}
		if n <= 0 {
			continue
		}
		telemetry.DatagramsReceived.Inc()
		s.mu.Lock()
		fn := s.onMessage
		s.mu.Unlock()
		if fn == nil {
			continue
		}
		msg := make([]byte, n)
		copy(msg, buf[:n])
		ip := addr.IP.String()
		port := uint16(addr.Port)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			fn(ip, port, msg)
		}()
	}
}

func (s *Sock) fail(err error) error {
	s.reportError(err)
	return err
}

func (s *Sock) reportError(err error) {
	s.mu.Lock()
	fn := s.onError
	s.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// listenUDP binds a udp4 socket, optionally with SO_REUSEADDR set before
// bind so several instances can share one host port.
func listenUDP(address string, port uint16, reuseAddr bool) (*net.UDPConn, error) {
	lc := net.ListenConfig{}
	if reuseAddr {
		lc.Control = func(network, addr string, c syscall.RawConn) error {
			var serr error
			err := c.Control(func(fd uintptr) {
				serr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return serr
		}
	}
	pc, err := lc.ListenPacket(context.Background(), "udp4", net.JoinHostPort(address, fmt.Sprintf("%d", port)))
	if err != nil {
		return nil, err
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, errors.New("not a UDP socket")
	}
	return conn, nil
}

func setBroadcast(conn *net.UDPConn) error {
	rc, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var serr error
	if err := rc.Control(func(fd uintptr) {
		serr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	}); err != nil {
		return err
	}
	return serr
}
