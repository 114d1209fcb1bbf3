package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/adlb-go/adlb/internal/interfaces"
)

// frameHeaderLen is [body_len:u32be][src_rank:i32be][tag:u16be].
const frameHeaderLen = 4 + 4 + 2

// barrierTag is a reserved tag used by TCPComm's own Barrier implementation;
// RPC traffic never uses it.
const barrierTag uint16 = 0xFFFF

// TCPComm is a real-network Comm: one persistent TCP connection per peer
// pair, a reader goroutine per connection feeding per-tag inboxes, and a
// rank-0-coordinated Barrier. TCP_NODELAY is set on every connection since
// ADLB control and data messages are latency-sensitive, not bandwidth-bound.
type TCPComm struct {
	rank  int
	addrs []string // addrs[r] is the listen address of rank r

	mu    sync.Mutex
	conns map[int]net.Conn

	inboxMu sync.Mutex
	inboxes map[uint16]chan interfaces.Message

	logger interfaces.Logger

	barrierMu       sync.Mutex
	barrierArrivals int
	barrierWaiters  []chan struct{}
	barrierArrived  chan struct{} // signaled (non-blocking) on each arrival, rank 0 only
}

// DialMesh builds a TCPComm for rank among addrs (one listen address per
// rank, addrs[rank] is this process's own). It listens, then dials every
// rank greater than itself and accepts connections from every rank less
// than itself, the standard way to build a full mesh without duplicate
// connections.
func DialMesh(ctx context.Context, addrs []string, rank int, logger interfaces.Logger) (*TCPComm, error) {
	if rank < 0 || rank >= len(addrs) {
		return nil, fmt.Errorf("transport: rank %d out of range [0,%d)", rank, len(addrs))
	}
	c := &TCPComm{
		rank:    rank,
		addrs:   append([]string(nil), addrs...),
		conns:   make(map[int]net.Conn),
		inboxes: make(map[uint16]chan interfaces.Message),
		logger:  logger,
	}

	ln, err := net.Listen("tcp", addrs[rank])
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addrs[rank], err)
	}

	var wg sync.WaitGroup
	expectIncoming := rank // ranks 0..rank-1 will dial us
	acceptErrCh := make(chan error, 1)
	if expectIncoming > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < expectIncoming; i++ {
				conn, err := ln.Accept()
				if err != nil {
					acceptErrCh <- err
					return
				}
				peer, err := c.handshakeAccept(conn)
				if err != nil {
					conn.Close()
					acceptErrCh <- err
					return
				}
				c.setConn(peer, conn)
				go c.readLoop(conn, peer)
			}
		}()
	}

	for peer := rank + 1; peer < len(addrs); peer++ {
		conn, err := net.Dial("tcp", addrs[peer])
		if err != nil {
			ln.Close()
			return nil, fmt.Errorf("transport: dial rank %d at %s: %w", peer, addrs[peer], err)
		}
		if err := c.handshakeDial(conn); err != nil {
			conn.Close()
			ln.Close()
			return nil, err
		}
		setTCPNoDelay(conn)
		c.setConn(peer, conn)
		go c.readLoop(conn, peer)
	}

	wg.Wait()
	select {
	case err := <-acceptErrCh:
		ln.Close()
		return nil, fmt.Errorf("transport: accept: %w", err)
	default:
	}
	ln.Close()

	return c, nil
}

// handshakeDial sends this rank's identity to the peer it just dialed.
func (c *TCPComm) handshakeDial(conn net.Conn) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(c.rank))
	_, err := conn.Write(buf[:])
	return err
}

// handshakeAccept reads the dialing peer's identity off a freshly accepted
// connection.
func (c *TCPComm) handshakeAccept(conn net.Conn) (int, error) {
	var buf [4]byte
	if _, err := io.ReadFull(conn, buf[:]); err != nil {
		return 0, err
	}
	setTCPNoDelay(conn)
	return int(binary.BigEndian.Uint32(buf[:])), nil
}

func setTCPNoDelay(conn net.Conn) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	rawConn, err := tcpConn.SyscallConn()
	if err != nil {
		return
	}
	_ = rawConn.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	})
}

func (c *TCPComm) setConn(peer int, conn net.Conn) {
	c.mu.Lock()
	c.conns[peer] = conn
	c.mu.Unlock()
}

func (c *TCPComm) conn(peer int) (net.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, ok := c.conns[peer]
	if !ok {
		return nil, fmt.Errorf("transport: no connection to rank %d", peer)
	}
	return conn, nil
}

func (c *TCPComm) inbox(tag uint16) chan interfaces.Message {
	c.inboxMu.Lock()
	defer c.inboxMu.Unlock()
	ch, ok := c.inboxes[tag]
	if !ok {
		ch = make(chan interfaces.Message, 256)
		c.inboxes[tag] = ch
	}
	return ch
}

func (c *TCPComm) readLoop(conn net.Conn, peer int) {
	hdr := make([]byte, frameHeaderLen)
	for {
		if _, err := io.ReadFull(conn, hdr); err != nil {
			if c.logger != nil {
				c.logger.Debugf("transport: read loop from rank %d ended: %v", peer, err)
			}
			return
		}
		bodyLen := binary.BigEndian.Uint32(hdr[0:4])
		src := int32(binary.BigEndian.Uint32(hdr[4:8]))
		tag := binary.BigEndian.Uint16(hdr[8:10])

		body := make([]byte, bodyLen)
		if bodyLen > 0 {
			if _, err := io.ReadFull(conn, body); err != nil {
				if c.logger != nil {
					c.logger.Debugf("transport: short body from rank %d: %v", peer, err)
				}
				return
			}
		}

		if tag == barrierTag {
			c.handleBarrierMessage(body)
			continue
		}
		c.inbox(tag) <- interfaces.Message{Src: int(src), Tag: tag, Body: body}
	}
}

func (c *TCPComm) Rank() int { return c.rank }
func (c *TCPComm) Size() int { return len(c.addrs) }

func (c *TCPComm) Isend(ctx context.Context, dest int, tag uint16, buf []byte) error {
	if dest == c.rank {
		c.inbox(tag) <- interfaces.Message{Src: c.rank, Tag: tag, Body: append([]byte(nil), buf...)}
		return nil
	}
	conn, err := c.conn(dest)
	if err != nil {
		return err
	}
	frame := make([]byte, frameHeaderLen+len(buf))
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(buf)))
	binary.BigEndian.PutUint32(frame[4:8], uint32(c.rank))
	binary.BigEndian.PutUint16(frame[8:10], tag)
	copy(frame[frameHeaderLen:], buf)

	type writeResult struct{ err error }
	done := make(chan writeResult, 1)
	go func() {
		_, err := conn.Write(frame)
		done <- writeResult{err}
	}()
	select {
	case r := <-done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *TCPComm) PostIrecv(tag uint16) { c.inbox(tag) }

func (c *TCPComm) Inbox(tag uint16) <-chan interfaces.Message { return c.inbox(tag) }

// Progress always reports no work: reader goroutines already deliver
// completed messages to their inbox channels in the background.
func (c *TCPComm) Progress() bool { return false }

// Barrier implements a rank-0-coordinated collective: every non-zero rank
// sends an arrival to rank 0 and waits for a release broadcast; rank 0
// waits for size-1 arrivals, then broadcasts.
func (c *TCPComm) Barrier(ctx context.Context) error {
	if c.Size() == 1 {
		return nil
	}
	if c.rank != 0 {
		if err := c.Isend(ctx, 0, barrierTag, nil); err != nil {
			return err
		}
		wait := make(chan struct{})
		c.barrierMu.Lock()
		c.barrierWaiters = append(c.barrierWaiters, wait)
		c.barrierMu.Unlock()
		select {
		case <-wait:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.barrierMu.Lock()
	if c.barrierArrived == nil {
		c.barrierArrived = make(chan struct{}, 1)
	}
	signal := c.barrierArrived
	c.barrierMu.Unlock()

	for {
		c.barrierMu.Lock()
		done := c.barrierArrivals >= c.Size()-1
		if done {
			c.barrierArrivals = 0
		}
		c.barrierMu.Unlock()
		if done {
			break
		}
		select {
		case <-signal:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for peer := 1; peer < c.Size(); peer++ {
		if err := c.Isend(ctx, peer, barrierTag, nil); err != nil {
			return err
		}
	}
	return nil
}

// handleBarrierMessage is invoked from readLoop on rank 0 for arrivals, and
// on every other rank for the release broadcast.
func (c *TCPComm) handleBarrierMessage(body []byte) {
	c.barrierMu.Lock()
	defer c.barrierMu.Unlock()
	if c.rank == 0 {
		c.barrierArrivals++
		if c.barrierArrived != nil {
			select {
			case c.barrierArrived <- struct{}{}:
			default:
			}
		}
		return
	}
	for _, w := range c.barrierWaiters {
		close(w)
	}
	c.barrierWaiters = nil
}

func (c *TCPComm) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for _, conn := range c.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ interfaces.Comm = (*TCPComm)(nil)
