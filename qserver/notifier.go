// Copyright (c) 2024 The libbitcoin-server developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package qserver

import (
	"bytes"
	"encoding/binary"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/JoBangelz/libbitcoin-server/qmsg"
)

// cmdAddressUpdate is the push command delivered to prefix
// subscribers.
const cmdAddressUpdate = "address.update2"

// notifier consumes the chain's reorganization and mempool event
// streams, matches transactions against the subscriber index, and
// pushes address.update2 frames to subscribers.  It owns all
// notification dispatch and the expiry sweep.
type notifier struct {
	chain    Chain
	index    *subscriberIndex
	settings *Settings

	wg      sync.WaitGroup
	quit    chan struct{}
	started bool
}

func newNotifier(chain Chain, index *subscriberIndex, settings *Settings) *notifier {
	return &notifier{
		chain:    chain,
		index:    index,
		settings: settings,
		quit:     make(chan struct{}),
	}
}

func (n *notifier) start() {
	if n.started {
		return
	}
	n.started = true
	n.wg.Add(1)
	go n.run()
}

func (n *notifier) stop() {
	close(n.quit)
	n.wg.Wait()
}

// run is the worker loop: one goroutine pulling chain events, the
// purge tick, and shutdown.  Event stream closure triggers a delayed
// re-subscribe so a restarting chain backend is picked up again.
func (n *notifier) run() {
	defer n.wg.Done()

	reorgs := n.chain.ReorgEvents()
	mempool := n.chain.MempoolEvents()
	var reorgRetry, mempoolRetry <-chan time.Time

	ticker := time.NewTicker(n.settings.purgeInterval())
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-reorgs:
			if !ok {
				log.Warnf("Reorganization stream closed, resubscribing")
				reorgs = nil
				reorgRetry = time.After(time.Second)
				continue
			}
			n.handleReorg(ev)

		case ev, ok := <-mempool:
			if !ok {
				log.Warnf("Mempool stream closed, resubscribing")
				mempool = nil
				mempoolRetry = time.After(time.Second)
				continue
			}
			n.handleMempool(ev)

		case <-reorgRetry:
			reorgs = n.chain.ReorgEvents()
			reorgRetry = nil

		case <-mempoolRetry:
			mempool = n.chain.MempoolEvents()
			mempoolRetry = nil

		case <-ticker.C:
			if removed := n.index.purge(time.Now()); removed > 0 {
				log.Debugf("Purged %d expired subscriptions, %d live",
					removed, n.index.size())
			}

		case <-n.quit:
			return
		}
	}
}

// handleReorg notifies for the applied side of a reorganization in
// height order.  Rolled-back blocks are silent unless rollback
// notification is configured; clients infer rollback from re-delivery
// at the same or lower height.
func (n *notifier) handleReorg(ev ReorgEvent) {
	if ev.Code != CodeSuccess {
		log.Errorf("Aborting reorganization batch: %v", ev.Code)
		return
	}

	if n.settings.NotifyRollbacks {
		for _, block := range ev.OldBlocks {
			n.notifyBlock(0, block)
		}
	}

	height := ev.ForkHeight
	for _, block := range ev.NewBlocks {
		height++
		n.notifyBlock(height, block)
	}
}

func (n *notifier) handleMempool(ev MempoolEvent) {
	if ev.Code != CodeSuccess {
		log.Errorf("Aborting mempool event: %v", ev.Code)
		return
	}
	n.notifyTransaction(0, chainhash.Hash{}, ev.Tx)
}

func (n *notifier) notifyBlock(height uint32, block *wire.MsgBlock) {
	blockHash := block.BlockHash()
	for _, tx := range block.Transactions {
		n.notifyTransaction(height, blockHash, tx)
	}
}

// notifyTransaction matches the transaction's candidate fields against
// the index and emits at most one update per subscriber for this
// transaction, deduplicating across fields.
func (n *notifier) notifyTransaction(height uint32, blockHash chainhash.Hash,
	tx *wire.MsgTx) {

	fields := transactionFields(tx, n.settings.ChainParams)
	if len(fields) == 0 {
		return
	}

	var txBuf bytes.Buffer
	txBuf.Grow(tx.SerializeSize())
	if err := tx.Serialize(&txBuf); err != nil {
		log.Errorf("Failed to serialize tx %v: %v", tx.TxHash(), err)
		return
	}
	txBytes := txBuf.Bytes()

	// Dedup is by reply route, not owner key: one client may hold
	// several subscriptions with distinct originating ids, and each is
	// notified separately.
	type routeID struct {
		dest string
		id   uint32
	}
	now := time.Now()
	notified := make(map[routeID]struct{})

	for _, field := range fields {
		for _, sub := range n.index.lookupMatches(field, now) {
			route, _ := sub.replyTo()
			rk := routeID{dest: string(route.Dest), id: route.ID}
			if _, done := notified[rk]; done {
				continue
			}
			notified[rk] = struct{}{}

			if err := n.sendUpdate(sub, height, blockHash, txBytes); err != nil {
				log.Debugf("Dropping subscriber %v: %v", sub.key, err)
				n.index.removeAll(sub.key)
			}
		}
	}
}

// sendUpdate pushes one address.update2 frame:
//
//	[ code:4 ][ sequence:1 ][ height:4 ][ block_hash:32 ][ tx ]
//
// to the subscriber's reply route, echoing the subscription's
// originating id.
func (n *notifier) sendUpdate(sub *subscription, height uint32,
	blockHash chainhash.Hash, txBytes []byte) error {

	route, sock := sub.replyTo()
	seq := sub.nextSequence()

	data := make([]byte, 0, 4+1+4+chainhash.HashSize+len(txBytes))
	data = append(data, CodeSuccess.Bytes()...)
	data = append(data, seq)
	var heightBytes [4]byte
	binary.LittleEndian.PutUint32(heightBytes[:], height)
	data = append(data, heightBytes[:]...)
	data = append(data, blockHash[:]...)
	data = append(data, txBytes...)

	msg := &qmsg.Message{
		Dest:    route.Dest,
		Command: cmdAddressUpdate,
		ID:      route.ID,
		Data:    data,
	}
	return sock.Send(route.Dest, msg.Body())
}

// transactionFields computes the candidate match fields of a
// transaction: per output the p2kh-compatible payment hash, the full
// sha256 script digest, and any stealth ephemeral key carried by a
// nulldata output; per input the payment hash recovered from the
// spending script.
func transactionFields(tx *wire.MsgTx, params *chaincfg.Params) [][]byte {
	var fields [][]byte

	for _, txOut := range tx.TxOut {
		if hash := paymentHash(txOut.PkScript, params); hash != nil {
			fields = append(fields, hash)
		}
		fields = append(fields, chainhash.HashB(txOut.PkScript))
		if key := stealthField(txOut.PkScript); key != nil {
			fields = append(fields, key)
		}
	}

	for _, txIn := range tx.TxIn {
		if hash := inputPaymentHash(txIn, params); hash != nil {
			fields = append(fields, hash)
		}
	}

	return fields
}

// paymentHash extracts the 20-byte payment address hash from an output
// script.  Scripts that do not resolve to exactly one address, such as
// bare multisig, yield nothing.
func paymentHash(pkScript []byte, params *chaincfg.Params) []byte {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, params)
	if err != nil || len(addrs) != 1 {
		return nil
	}
	hash := addrs[0].ScriptAddress()
	if len(hash) != 20 {
		return nil
	}
	out := make([]byte, 20)
	copy(out, hash)
	return out
}

// inputPaymentHash recovers the payment hash of the previous output
// from the spending input's script or witness.
func inputPaymentHash(txIn *wire.TxIn, params *chaincfg.Params) []byte {
	pkScript, err := txscript.ComputePkScript(txIn.SignatureScript, txIn.Witness)
	if err != nil {
		return nil
	}
	return paymentHash(pkScript.Script(), params)
}

// stealthField extracts the ephemeral key body from a stealth nulldata
// output: OP_RETURN carrying a 33-byte compressed key, optionally
// preceded by padding.  The match field is the key's 32-byte x
// coordinate, the portion stealth prefixes are computed over.
func stealthField(pkScript []byte) []byte {
	if txscript.GetScriptClass(pkScript) != txscript.NullDataTy {
		return nil
	}
	pushes, err := txscript.PushedData(pkScript)
	if err != nil {
		return nil
	}
	for _, push := range pushes {
		if len(push) >= 33 && (push[0] == 0x02 || push[0] == 0x03) {
			field := make([]byte, 32)
			copy(field, push[1:33])
			return field
		}
	}
	return nil
}
