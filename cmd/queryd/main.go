// Copyright (c) 2024 The libbitcoin-server developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/JoBangelz/libbitcoin-server/qserver"
)

// queryMain is the real main function for queryd.  It is separated so
// deferred cleanup runs before the exit code is returned.
func queryMain() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	params := &chaincfg.MainNetParams
	if cfg.TestNet3 {
		params = &chaincfg.TestNet3Params
	}

	settings := cfg.settings()
	settings.ChainParams = params

	chain := newMemChain(params)
	defer chain.stop()

	server := qserver.New(settings, chain)
	if err := server.Start(); err != nil {
		mainLog.Errorf("Unable to start server: %v", err)
		return err
	}
	defer server.Stop()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	sig := <-interrupt
	mainLog.Infof("Received signal %v, shutting down", sig)

	return nil
}

func main() {
	if err := queryMain(); err != nil {
		os.Exit(1)
	}
}
