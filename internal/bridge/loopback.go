package bridge

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/Aidin1998/omnidex/pkg/errors"
)

// Loopback is an in-process relay connecting every chain instance wired into
// it. Delivery is synchronous and in send order per path. A failed delivery
// stores the payload and blocks the path, exactly like a stuck relay path:
// later packets queue behind it until an operator retries or force-resumes.
type Loopback struct {
	fees   FeeSchedule
	store  *StoredPayloadStore
	quotes *gocache.Cache
	logger *zap.Logger

	mu        sync.Mutex
	receivers map[uint16]map[common.Address]Receiver
	outNonces map[pathKey]uint64
	blocked   map[pathKey]bool
	queued    map[pathKey][]queuedPacket
}

type queuedPacket struct {
	nonce   uint64
	payload []byte
}

// NewLoopback creates the relay. The store persists stored payloads so the
// operator surface sees them regardless of transport.
func NewLoopback(fees FeeSchedule, store *StoredPayloadStore, logger *zap.Logger) *Loopback {
	return &Loopback{
		fees:      fees,
		store:     store,
		quotes:    gocache.New(5*time.Minute, 10*time.Minute),
		logger:    logger.Named("loopback"),
		receivers: make(map[uint16]map[common.Address]Receiver),
		outNonces: make(map[pathKey]uint64),
		blocked:   make(map[pathKey]bool),
		queued:    make(map[pathKey][]queuedPacket),
	}
}

// RegisterReceiver wires an inbound handler at (chainID, address).
func (l *Loopback) RegisterReceiver(chainID uint16, addr common.Address, r Receiver) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.receivers[chainID] == nil {
		l.receivers[chainID] = make(map[common.Address]Receiver)
	}
	l.receivers[chainID][addr] = r
}

// EndpointFor returns the per-chain endpoint facade the engine and managers
// on srcChainID send through.
func (l *Loopback) EndpointFor(srcChainID uint16, srcAddress common.Address) Endpoint {
	return &loopbackEndpoint{relay: l, srcChainID: srcChainID, srcAddress: srcAddress}
}

type loopbackEndpoint struct {
	relay      *Loopback
	srcChainID uint16
	srcAddress common.Address
}

func (e *loopbackEndpoint) Send(ctx context.Context, dstChainID uint16, dstAddress common.Address, payload []byte, refund common.Address, zroPayment common.Address, params AdapterParams) (*big.Int, error) {
	return e.relay.send(ctx, e.srcChainID, e.srcAddress, dstChainID, dstAddress, payload, params)
}

func (e *loopbackEndpoint) EstimateFees(dstChainID uint16, srcAddress common.Address, payload []byte, useZro bool, params AdapterParams) (*big.Int, *big.Int, error) {
	return e.relay.estimate(dstChainID, payload, params)
}

func (l *Loopback) estimate(dstChainID uint16, payload []byte, params AdapterParams) (*big.Int, *big.Int, error) {
	key := fmt.Sprintf("%d:%d:%s", dstChainID, len(payload), params.AirdropAmount)
	if cached, ok := l.quotes.Get(key); ok {
		return new(big.Int).Set(cached.(*big.Int)), new(big.Int), nil
	}
	fee := l.fees.Quote(len(payload), params)
	l.quotes.Set(key, new(big.Int).Set(fee), gocache.DefaultExpiration)
	return fee, new(big.Int), nil
}

func (l *Loopback) send(ctx context.Context, srcChainID uint16, srcAddress common.Address, dstChainID uint16, dstAddress common.Address, payload []byte, params AdapterParams) (*big.Int, error) {
	fee := l.fees.Quote(len(payload), params)

	l.mu.Lock()
	key := pathKey{srcChainID, srcAddress, dstChainID, dstAddress}
	l.outNonces[key]++
	nonce := l.outNonces[key]

	receiver := l.receiverLocked(dstChainID, dstAddress)
	if receiver == nil {
		l.mu.Unlock()
		return nil, errors.NewWithKind(errors.KindNotFound).Explain("no receiver at chain %d address %s", dstChainID, dstAddress.Hex())
	}

	if l.blocked[key] {
		// Path stuck: preserve order behind the stored payload.
		l.queued[key] = append(l.queued[key], queuedPacket{nonce: nonce, payload: payload})
		l.mu.Unlock()
		l.logger.Warn("path blocked, packet queued", zap.String("path", key.String()), zap.Uint64("nonce", nonce))
		return fee, nil
	}
	l.mu.Unlock()

	l.deliver(ctx, key, receiver, nonce, payload)
	return fee, nil
}

func (l *Loopback) receiverLocked(chainID uint16, addr common.Address) Receiver {
	if m, ok := l.receivers[chainID]; ok {
		return m[addr]
	}
	return nil
}

func (l *Loopback) deliver(ctx context.Context, key pathKey, receiver Receiver, nonce uint64, payload []byte) {
	err := receiver.Receive(ctx, key.srcChainID, key.srcAddress, nonce, payload)
	if err == nil {
		return
	}

	l.logger.Error("inbound delivery failed, storing payload",
		zap.String("path", key.String()),
		zap.Uint64("nonce", nonce),
		zap.Error(err))

	l.mu.Lock()
	l.blocked[key] = true
	l.mu.Unlock()

	stored := &StoredPayload{
		SrcChainID: key.srcChainID,
		SrcAddress: key.srcAddress.Hex(),
		DstChainID: key.dstChainID,
		DstAddress: key.dstAddress.Hex(),
		Nonce:      nonce,
		Payload:    payload,
		Reason:     err.Error(),
	}
	if serr := l.store.Store(stored); serr != nil {
		l.logger.Error("persist stored payload failed", zap.Error(serr))
	}
}

// RetryPayload re-runs the oldest stored payload on the path. On success the
// payload is cleared, the path unblocks, and queued packets drain in order.
func (l *Loopback) RetryPayload(ctx context.Context, srcChainID uint16, srcAddress common.Address, dstChainID uint16, dstAddress common.Address) error {
	rows, err := l.store.ListPath(srcChainID, srcAddress, dstChainID, dstAddress)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return errors.NewWithKind(errors.KindNotFound).Explain("no stored payload for path")
	}

	key := pathKey{srcChainID, srcAddress, dstChainID, dstAddress}
	l.mu.Lock()
	receiver := l.receiverLocked(dstChainID, dstAddress)
	l.mu.Unlock()
	if receiver == nil {
		return errors.NewWithKind(errors.KindNotFound).Explain("no receiver at chain %d address %s", dstChainID, dstAddress.Hex())
	}

	head := rows[0]
	if err := receiver.Receive(ctx, srcChainID, srcAddress, head.Nonce, head.Payload); err != nil {
		return errors.Wrap(err).Explain("stored payload still failing")
	}
	if err := l.store.Delete(head.ID); err != nil {
		return err
	}
	l.logger.Info("stored payload retried", zap.String("path", key.String()), zap.Uint64("nonce", head.Nonce))

	if len(rows) > 1 {
		// More stored payloads behind the head keep the path blocked.
		return nil
	}
	l.unblock(ctx, key, receiver)
	return nil
}

// ForceResumeReceive abandons every stored payload on the path and unblocks
// it. Operator-only: this permanently drops the stuck legs.
func (l *Loopback) ForceResumeReceive(ctx context.Context, srcChainID uint16, srcAddress common.Address, dstChainID uint16, dstAddress common.Address) error {
	rows, err := l.store.ListPath(srcChainID, srcAddress, dstChainID, dstAddress)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := l.store.Delete(row.ID); err != nil {
			return err
		}
	}

	key := pathKey{srcChainID, srcAddress, dstChainID, dstAddress}
	l.mu.Lock()
	receiver := l.receiverLocked(dstChainID, dstAddress)
	l.mu.Unlock()
	l.logger.Warn("path force-resumed, stored payloads dropped",
		zap.String("path", key.String()),
		zap.Int("dropped", len(rows)))
	if receiver != nil {
		l.unblock(ctx, key, receiver)
	}
	return nil
}

func (l *Loopback) unblock(ctx context.Context, key pathKey, receiver Receiver) {
	l.mu.Lock()
	delete(l.blocked, key)
	pending := l.queued[key]
	delete(l.queued, key)
	l.mu.Unlock()

	for i, pkt := range pending {
		l.deliver(ctx, key, receiver, pkt.nonce, pkt.payload)
		l.mu.Lock()
		stuck := l.blocked[key]
		if stuck {
			// The drained packet got stored; re-queue the remainder behind it.
			rest := append([]queuedPacket{}, pending[i+1:]...)
			l.queued[key] = append(rest, l.queued[key]...)
		}
		l.mu.Unlock()
		if stuck {
			return
		}
	}
}
