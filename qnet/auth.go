// Copyright (c) 2024 The libbitcoin-server developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package qnet

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	// ErrClientNotAllowed describes a handshake from a client whose
	// public key is not on the allow-list.
	ErrClientNotAllowed = errors.New("client public key not allowed")
)

// Authenticator gates the secure endpoint.  It holds the server key
// pair and an allow-list of client public key fingerprints (hex
// sha256 of the certificate's SubjectPublicKeyInfo).  An empty
// allow-list admits any client that completes the TLS handshake with a
// certificate.
type Authenticator struct {
	cert    tls.Certificate
	allowed map[string]struct{}
}

// NewAuthenticator loads the server key pair and parses the client
// allow-list.  Misconfiguration is fatal to binding: the secure
// endpoint refuses to run rather than run open.
func NewAuthenticator(certFile, keyFile string, clientKeys []string) (*Authenticator, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("server key pair: %w", err)
	}

	allowed := make(map[string]struct{}, len(clientKeys))
	for _, key := range clientKeys {
		if len(key) != sha256.Size*2 {
			return nil, fmt.Errorf("bad client key fingerprint %q", key)
		}
		if _, err := hex.DecodeString(key); err != nil {
			return nil, fmt.Errorf("bad client key fingerprint %q: %w", key, err)
		}
		allowed[key] = struct{}{}
	}

	return &Authenticator{cert: cert, allowed: allowed}, nil
}

// Fingerprint returns the allow-list form of a certificate's public
// key: the hex sha256 of its SubjectPublicKeyInfo.
func Fingerprint(cert *x509.Certificate) string {
	digest := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
	return hex.EncodeToString(digest[:])
}

// ServerConfig builds the TLS configuration for the secure listener.
// Clients must present a certificate; the chain is not walked since
// authorization is by key fingerprint, not by CA.
func (a *Authenticator) ServerConfig() (*tls.Config, error) {
	return &tls.Config{
		Certificates: []tls.Certificate{a.cert},
		ClientAuth:   tls.RequireAnyClientCert,
		MinVersion:   tls.VersionTLS12,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return ErrClientNotAllowed
			}
			cert, err := x509.ParseCertificate(rawCerts[0])
			if err != nil {
				return err
			}
			if len(a.allowed) == 0 {
				return nil
			}
			if _, ok := a.allowed[Fingerprint(cert)]; !ok {
				log.Warnf("Rejected client key %s", Fingerprint(cert))
				return ErrClientNotAllowed
			}
			return nil
		},
	}, nil
}
