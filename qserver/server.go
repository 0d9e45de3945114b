// Copyright (c) 2024 The libbitcoin-server developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package qserver implements the query-and-notification core of the
// server: a command dispatcher answering byte-exact wallet queries
// against a blockchain backend, and a notification worker pushing
// address-prefix updates to subscribers on every reorganization and
// mempool acceptance.
package qserver

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JoBangelz/libbitcoin-server/qmsg"
	"github.com/JoBangelz/libbitcoin-server/qnet"
)

// ErrNoEndpoints is returned by Start when neither endpoint is
// configured.
var ErrNoEndpoints = errors.New("no endpoints configured")

// Server binds the configured endpoints, dispatches queries, and runs
// the notification worker.  All exported methods are safe for
// concurrent use.
type Server struct {
	started  int32
	shutdown int32

	settings *Settings
	chain    Chain
	index    *subscriberIndex
	notifier *notifier

	queue   chan inbound
	sockets []*qnet.Router

	wg   sync.WaitGroup
	quit chan struct{}
}

// New builds a server over the given chain backend.  Zero-valued
// settings fields take documented defaults.
func New(settings *Settings, chain Chain) *Server {
	settings.normalize()

	index := newSubscriberIndex(settings.SubscriptionLimit)
	return &Server{
		settings: settings,
		chain:    chain,
		index:    index,
		notifier: newNotifier(chain, index, settings),
		queue:    make(chan inbound, 128),
		quit:     make(chan struct{}),
	}
}

// Start binds the public and secure endpoints and launches the
// dispatcher workers and the notification worker.  Bind or
// authenticator failures are fatal: everything already bound is torn
// down and the error is returned.
func (s *Server) Start() error {
	if atomic.AddInt32(&s.started, 1) != 1 {
		return nil
	}
	if s.settings.PublicEndpoint == "" && s.settings.SecureEndpoint == "" {
		return ErrNoEndpoints
	}

	if s.settings.PublicEndpoint != "" {
		sock, err := qnet.Listen(s.settings.PublicEndpoint, nil,
			s.settings.QueryTimeout)
		if err != nil {
			s.closeSockets()
			return err
		}
		s.sockets = append(s.sockets, sock)
	}

	if s.settings.SecureEndpoint != "" {
		auth, err := qnet.NewAuthenticator(s.settings.CertFile,
			s.settings.KeyFile, s.settings.ClientKeys)
		if err != nil {
			s.closeSockets()
			return err
		}
		sock, err := qnet.Listen(s.settings.SecureEndpoint, auth,
			s.settings.QueryTimeout)
		if err != nil {
			s.closeSockets()
			return err
		}
		s.sockets = append(s.sockets, sock)
	}

	for _, sock := range s.sockets {
		s.wg.Add(1)
		go s.recvLoop(sock)
	}

	for i := 0; i < s.settings.Workers; i++ {
		s.wg.Add(1)
		go s.dispatchWorker()
	}

	s.notifier.start()

	log.Infof("Query server started with %d workers", s.settings.Workers)
	return nil
}

// Stop stops accepting requests, waits up to the shutdown grace for
// in-flight handlers, and releases the endpoints.  Remaining queued
// replies are dropped.
func (s *Server) Stop() {
	if atomic.AddInt32(&s.shutdown, 1) != 1 {
		return
	}
	log.Infof("Query server shutting down")

	s.notifier.stop()
	close(s.quit)
	s.closeSockets()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.settings.ShutdownGrace):
		log.Warnf("Shutdown grace of %v elapsed with handlers in flight",
			s.settings.ShutdownGrace)
	}

	log.Infof("Query server stopped")
}

func (s *Server) closeSockets() {
	for _, sock := range s.sockets {
		sock.Close()
	}
}

// SubscriptionCount returns the number of live subscriptions, expired
// entries included until the next purge.
func (s *Server) SubscriptionCount() int {
	return s.index.size()
}

// recvLoop drains one socket into the dispatch queue.  Frames that do
// not decode are dropped without reply since their correlation id may
// be unrecoverable.
func (s *Server) recvLoop(sock *qnet.Router) {
	defer s.wg.Done()

	for {
		identity, parts, err := sock.Recv()
		if err != nil {
			return
		}

		msg, err := qmsg.Decode(parts)
		if err != nil {
			log.Debugf("Dropping frame from %x: %v", identity, err)
			continue
		}
		msg.Dest = identity

		if msg.IsSignal() {
			log.Debugf("Ignoring signal %q from %x", msg.Command, identity)
			continue
		}

		select {
		case s.queue <- inbound{sock: sock, msg: msg}:
		case <-s.quit:
			return
		}
	}
}

// reply sends a response frame, reusing the request's dest, command,
// and id.  A vanished peer has its subscriptions cleaned up.
func (s *Server) reply(sock qnet.Socket, req *qmsg.Message, data []byte) {
	msg := req.Reply(data)
	if err := sock.Send(msg.Dest, msg.Body()); err != nil {
		log.Debugf("Reply %s to %x dropped: %v", msg.Command, msg.Dest, err)
		if errors.Is(err, qnet.ErrPeerGone) {
			s.index.removeAll(msg.Route().Key())
		}
	}
}

// replyCode sends a code-only reply; the absent body is itself part of
// the contract for lookups that fail.
func (s *Server) replyCode(sock qnet.Socket, req *qmsg.Message, code Code) {
	s.reply(sock, req, code.Bytes())
}
