// Copyright (c) 2024 The libbitcoin-server developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package qnet

import (
	"crypto/tls"
	"net"
)

// Dealer is the client end of a router endpoint: a single connection
// exchanging multi-part messages with no identity frames.  The router
// side observes this connection under a server-assigned identity.
type Dealer struct {
	conn net.Conn
}

// Dial connects a dealer to endpoint.  A non-nil TLS config dials the
// secure endpoint; clients connecting there must present a certificate
// on the server's allow-list.
func Dial(endpoint string, tlsCfg *tls.Config) (*Dealer, error) {
	var conn net.Conn
	var err error
	if tlsCfg != nil {
		conn, err = tls.Dial("tcp", endpoint, tlsCfg)
	} else {
		conn, err = net.Dial("tcp", endpoint)
	}
	if err != nil {
		return nil, err
	}
	return &Dealer{conn: conn}, nil
}

// Send writes one multi-part message.
func (d *Dealer) Send(parts [][]byte) error {
	return writeParts(d.conn, parts)
}

// Recv blocks until one multi-part message arrives.
func (d *Dealer) Recv() ([][]byte, error) {
	return readParts(d.conn)
}

// Close tears down the connection.
func (d *Dealer) Close() error {
	return d.conn.Close()
}
