// Copyright (c) 2024 The libbitcoin-server developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package qserver

import (
	"runtime"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
)

const (
	defaultSubscriptionTTL   = 10 * time.Minute
	defaultSubscriptionLimit = 100000
	defaultShutdownGrace     = 5 * time.Second
	defaultQueryTimeout      = 30 * time.Second

	minPurgeInterval = time.Second
	maxPurgeInterval = time.Minute
)

// Settings carries the configuration surface of the server core.
type Settings struct {
	// PublicEndpoint is the bind address of the unauthenticated query
	// endpoint.  Empty disables it.
	PublicEndpoint string

	// SecureEndpoint is the bind address of the authenticated query
	// endpoint.  Empty disables it.  When set, CertFile and KeyFile
	// must name the server key pair and ClientKeys may list allowed
	// client public key fingerprints.
	SecureEndpoint string
	CertFile       string
	KeyFile        string
	ClientKeys     []string

	// SubscriptionTTL is how long an address subscription lives
	// without renewal.
	SubscriptionTTL time.Duration

	// SubscriptionLimit soft-bounds the subscription table.
	SubscriptionLimit int

	// Workers is the number of dispatcher goroutines draining the
	// inbound queue.
	Workers int

	// ShutdownGrace bounds the wait for in-flight handlers on stop.
	ShutdownGrace time.Duration

	// QueryTimeout bounds a single outbound socket write.
	QueryTimeout time.Duration

	// NotifyRollbacks also emits notifications for rolled-back blocks
	// during a reorganization.  Off by default; clients infer rollback
	// from re-delivery on the applied side.
	NotifyRollbacks bool

	// ChainParams selects the network for script address extraction.
	ChainParams *chaincfg.Params
}

// DefaultSettings returns the documented defaults.
func DefaultSettings() *Settings {
	return &Settings{
		SubscriptionTTL:   defaultSubscriptionTTL,
		SubscriptionLimit: defaultSubscriptionLimit,
		Workers:           runtime.NumCPU(),
		ShutdownGrace:     defaultShutdownGrace,
		QueryTimeout:      defaultQueryTimeout,
		ChainParams:       &chaincfg.MainNetParams,
	}
}

// purgeInterval derives the expiry sweep period from the TTL: a tenth
// of the TTL clamped to [1s, 60s].
func (s *Settings) purgeInterval() time.Duration {
	interval := s.SubscriptionTTL / 10
	if interval < minPurgeInterval {
		interval = minPurgeInterval
	}
	if interval > maxPurgeInterval {
		interval = maxPurgeInterval
	}
	return interval
}

// normalize fills zero values with defaults.
func (s *Settings) normalize() {
	if s.SubscriptionTTL <= 0 {
		s.SubscriptionTTL = defaultSubscriptionTTL
	}
	if s.SubscriptionLimit <= 0 {
		s.SubscriptionLimit = defaultSubscriptionLimit
	}
	if s.Workers <= 0 {
		s.Workers = runtime.NumCPU()
	}
	if s.ShutdownGrace <= 0 {
		s.ShutdownGrace = defaultShutdownGrace
	}
	if s.QueryTimeout <= 0 {
		s.QueryTimeout = defaultQueryTimeout
	}
	if s.ChainParams == nil {
		s.ChainParams = &chaincfg.MainNetParams
	}
}
