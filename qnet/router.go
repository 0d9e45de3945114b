// Copyright (c) 2024 The libbitcoin-server developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package qnet

import (
	"crypto/tls"
	"encoding/binary"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// identitySize is the length of a router-assigned identity frame: a
// leading zero byte followed by a 32-bit connection ordinal, matching
// the convention wallet clients already expect from router transports.
const identitySize = 5

// routed pairs an inbound message with the identity of the connection
// that produced it.
type routed struct {
	identity []byte
	parts    [][]byte
}

// routerConn is one accepted client connection.  Writes from the
// dispatcher and the notification worker interleave, so each
// connection serializes its writes behind a mutex.
type routerConn struct {
	conn     net.Conn
	identity []byte

	writeMtx sync.Mutex
}

// Router is a listening socket that fans inbound messages from all
// connections into one receive queue and routes outbound messages by
// identity frame.  It implements Socket.
type Router struct {
	listener net.Listener
	secure   bool

	connMtx sync.RWMutex
	conns   map[string]*routerConn

	recvQueue    chan routed
	quit         chan struct{}
	wg           sync.WaitGroup
	closed       int32
	nextIdentity uint32

	// sendTimeout bounds a single outbound write so one stalled client
	// cannot wedge the notification worker.
	sendTimeout time.Duration
}

// Listen binds a router to endpoint.  When auth is non-nil the listener
// requires TLS with a client certificate on the authenticator's
// allow-list; a nil auth binds a plain public endpoint.
func Listen(endpoint string, auth *Authenticator, sendTimeout time.Duration) (*Router, error) {
	var listener net.Listener
	var err error
	if auth != nil {
		var cfg *tls.Config
		cfg, err = auth.ServerConfig()
		if err != nil {
			return nil, err
		}
		listener, err = tls.Listen("tcp", endpoint, cfg)
	} else {
		listener, err = net.Listen("tcp", endpoint)
	}
	if err != nil {
		return nil, err
	}

	r := &Router{
		listener:    listener,
		secure:      auth != nil,
		conns:       make(map[string]*routerConn),
		recvQueue:   make(chan routed, 128),
		quit:        make(chan struct{}),
		sendTimeout: sendTimeout,
	}

	r.wg.Add(1)
	go r.acceptLoop()

	log.Infof("Router listening on %s (secure=%v)", listener.Addr(), r.secure)
	return r, nil
}

// Addr returns the bound listener address.
func (r *Router) Addr() net.Addr {
	return r.listener.Addr()
}

func (r *Router) acceptLoop() {
	defer r.wg.Done()

	for {
		conn, err := r.listener.Accept()
		if err != nil {
			select {
			case <-r.quit:
				return
			default:
			}
			log.Warnf("Accept error on %s: %v", r.listener.Addr(), err)
			return
		}

		identity := make([]byte, identitySize)
		binary.BigEndian.PutUint32(identity[1:],
			atomic.AddUint32(&r.nextIdentity, 1))

		rc := &routerConn{conn: conn, identity: identity}
		r.connMtx.Lock()
		r.conns[string(identity)] = rc
		r.connMtx.Unlock()

		log.Debugf("Client %s connected with identity %x",
			conn.RemoteAddr(), identity)

		r.wg.Add(1)
		go r.readLoop(rc)
	}
}

// readLoop drains one connection into the shared receive queue until
// the peer disconnects or the router shuts down.
func (r *Router) readLoop(rc *routerConn) {
	defer r.wg.Done()
	defer r.dropConn(rc)

	for {
		parts, err := readParts(rc.conn)
		if err != nil {
			select {
			case <-r.quit:
			default:
				log.Debugf("Client %x read ended: %v", rc.identity, err)
			}
			return
		}

		select {
		case r.recvQueue <- routed{identity: rc.identity, parts: parts}:
		case <-r.quit:
			return
		}
	}
}

func (r *Router) dropConn(rc *routerConn) {
	r.connMtx.Lock()
	delete(r.conns, string(rc.identity))
	r.connMtx.Unlock()
	rc.conn.Close()
}

// Recv blocks until a message arrives on any connection.  It fails
// with ErrSocketClosed once the router is closed and drained.
func (r *Router) Recv() ([]byte, [][]byte, error) {
	select {
	case msg := <-r.recvQueue:
		return msg.identity, msg.parts, nil
	case <-r.quit:
		// Drain anything already queued before reporting closure.
		select {
		case msg := <-r.recvQueue:
			return msg.identity, msg.parts, nil
		default:
			return nil, nil, ErrSocketClosed
		}
	}
}

// Send routes parts to the connection owning identity.  A missing or
// dead route fails with ErrPeerGone; the caller uses this to expire
// subscription state for the peer.
func (r *Router) Send(identity []byte, parts [][]byte) error {
	r.connMtx.RLock()
	rc, ok := r.conns[string(identity)]
	r.connMtx.RUnlock()
	if !ok {
		return ErrPeerGone
	}

	rc.writeMtx.Lock()
	defer rc.writeMtx.Unlock()

	if r.sendTimeout > 0 {
		rc.conn.SetWriteDeadline(time.Now().Add(r.sendTimeout))
	}
	if err := writeParts(rc.conn, parts); err != nil {
		r.dropConn(rc)
		return ErrPeerGone
	}
	return nil
}

// Close releases the endpoint and disconnects every client.
func (r *Router) Close() error {
	if !atomic.CompareAndSwapInt32(&r.closed, 0, 1) {
		return nil
	}

	close(r.quit)
	err := r.listener.Close()

	r.connMtx.Lock()
	for _, rc := range r.conns {
		rc.conn.Close()
	}
	r.conns = make(map[string]*routerConn)
	r.connMtx.Unlock()

	r.wg.Wait()
	return err
}
