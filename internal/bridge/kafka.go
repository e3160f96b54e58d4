package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Aidin1998/omnidex/pkg/errors"
)

// Packet is the wire envelope the Kafka relay moves between chain instances.
type Packet struct {
	ID         string `json:"id"`
	SrcChainID uint16 `json:"src_chain_id"`
	SrcAddress string `json:"src_address"`
	DstChainID uint16 `json:"dst_chain_id"`
	DstAddress string `json:"dst_address"`
	Nonce      uint64 `json:"nonce"`
	Payload    []byte `json:"payload"`
}

// KafkaEndpointConfig contains configuration options for the Kafka relay.
type KafkaEndpointConfig struct {
	Brokers      []string
	TopicPrefix  string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

// DefaultKafkaEndpointConfig returns settings tuned for settlement traffic:
// small batches, fast flush.
func DefaultKafkaEndpointConfig(brokers []string) KafkaEndpointConfig {
	return KafkaEndpointConfig{
		Brokers:      brokers,
		TopicPrefix:  "omnidex-packets",
		BatchTimeout: 5 * time.Millisecond,
		WriteTimeout: 1 * time.Second,
	}
}

// KafkaEndpoint relays packets between chain instances over one topic per
// destination chain. Messages are keyed by path so a partition preserves
// per-path send order. A failed inbound apply stores the payload and blocks
// the path; later packets on a blocked path are stored behind it in order.
type KafkaEndpoint struct {
	cfg          KafkaEndpointConfig
	localChainID uint16
	localAddress common.Address
	fees         FeeSchedule
	store        *StoredPayloadStore
	logger       *zap.Logger

	mu        sync.Mutex
	writers   map[uint16]*kafka.Writer
	receivers map[common.Address]Receiver
	outNonces map[pathKey]uint64
	blocked   map[pathKey]bool
}

// NewKafkaEndpoint creates the relay endpoint for one chain instance.
// localAddress is the engine identity remote peers have bound as their
// trusted remote; every outbound packet carries it as the source.
func NewKafkaEndpoint(cfg KafkaEndpointConfig, localChainID uint16, localAddress common.Address, fees FeeSchedule, store *StoredPayloadStore, logger *zap.Logger) *KafkaEndpoint {
	return &KafkaEndpoint{
		cfg:          cfg,
		localChainID: localChainID,
		localAddress: localAddress,
		fees:         fees,
		store:        store,
		logger:       logger.Named("kafka-endpoint"),
		writers:      make(map[uint16]*kafka.Writer),
		receivers:    make(map[common.Address]Receiver),
		outNonces:    make(map[pathKey]uint64),
		blocked:      make(map[pathKey]bool),
	}
}

// RegisterReceiver wires the inbound handler for a local address.
func (e *KafkaEndpoint) RegisterReceiver(addr common.Address, r Receiver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.receivers[addr] = r
}

func (e *KafkaEndpoint) topicFor(chainID uint16) string {
	return fmt.Sprintf("%s-chain-%d", e.cfg.TopicPrefix, chainID)
}

func (e *KafkaEndpoint) writerFor(dstChainID uint16) *kafka.Writer {
	e.mu.Lock()
	defer e.mu.Unlock()
	if w, ok := e.writers[dstChainID]; ok {
		return w
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(e.cfg.Brokers...),
		Topic:        e.topicFor(dstChainID),
		Balancer:     &kafka.Hash{},
		BatchTimeout: e.cfg.BatchTimeout,
		WriteTimeout: e.cfg.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	e.writers[dstChainID] = w
	return w
}

// outboundPacket stamps the next packet for a path. The source is always the
// local engine address: that is the identity the destination has bound as its
// trusted remote, and keying the nonce sequence by it keeps one ordered
// stream per path rather than one per refund address.
func (e *KafkaEndpoint) outboundPacket(dstChainID uint16, dstAddress common.Address, payload []byte) (Packet, pathKey) {
	key := pathKey{e.localChainID, e.localAddress, dstChainID, dstAddress}
	e.mu.Lock()
	e.outNonces[key]++
	nonce := e.outNonces[key]
	e.mu.Unlock()

	return Packet{
		ID:         uuid.New().String(),
		SrcChainID: e.localChainID,
		SrcAddress: e.localAddress.Hex(),
		DstChainID: dstChainID,
		DstAddress: dstAddress.Hex(),
		Nonce:      nonce,
		Payload:    payload,
	}, key
}

// Send implements Endpoint over the relay topics.
func (e *KafkaEndpoint) Send(ctx context.Context, dstChainID uint16, dstAddress common.Address, payload []byte, refund common.Address, zroPayment common.Address, params AdapterParams) (*big.Int, error) {
	fee := e.fees.Quote(len(payload), params)

	pkt, key := e.outboundPacket(dstChainID, dstAddress, payload)
	data, err := json.Marshal(pkt)
	if err != nil {
		return nil, errors.Wrap(err).Explain("encode relay packet")
	}

	msg := kafka.Message{Key: []byte(key.String()), Value: data}
	if err := e.writerFor(dstChainID).WriteMessages(ctx, msg); err != nil {
		return nil, errors.Wrap(err).Explain("publish relay packet")
	}
	e.logger.Debug("packet published",
		zap.String("packet_id", pkt.ID),
		zap.Uint16("dst_chain", dstChainID),
		zap.Uint64("nonce", pkt.Nonce))
	return fee, nil
}

// EstimateFees implements Endpoint.
func (e *KafkaEndpoint) EstimateFees(dstChainID uint16, srcAddress common.Address, payload []byte, useZro bool, params AdapterParams) (*big.Int, *big.Int, error) {
	return e.fees.Quote(len(payload), params), new(big.Int), nil
}

// Run consumes this chain's inbound topic until the context is cancelled.
// Offsets commit after handling, so the transport re-delivers on crash and
// the receiver's idempotency table absorbs the duplicates.
func (e *KafkaEndpoint) Run(ctx context.Context) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: e.cfg.Brokers,
		GroupID: fmt.Sprintf("omnidex-chain-%d", e.localChainID),
		Topic:   e.topicFor(e.localChainID),
	})
	defer reader.Close()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Error("relay fetch failed", zap.Error(err))
			continue
		}

		var pkt Packet
		if err := json.Unmarshal(msg.Value, &pkt); err != nil {
			e.logger.Error("malformed relay packet dropped", zap.Error(err))
			if err := reader.CommitMessages(ctx, msg); err != nil {
				e.logger.Error("commit failed", zap.Error(err))
			}
			continue
		}

		e.handle(ctx, pkt)
		if err := reader.CommitMessages(ctx, msg); err != nil {
			e.logger.Error("commit failed", zap.Error(err))
		}
	}
}

func (e *KafkaEndpoint) handle(ctx context.Context, pkt Packet) {
	dstAddr := common.HexToAddress(pkt.DstAddress)
	srcAddr := common.HexToAddress(pkt.SrcAddress)
	key := pathKey{pkt.SrcChainID, srcAddr, pkt.DstChainID, dstAddr}

	e.mu.Lock()
	receiver := e.receivers[dstAddr]
	stuck := e.blocked[key]
	e.mu.Unlock()

	if receiver == nil {
		e.logger.Error("packet for unknown receiver dropped", zap.String("dst", pkt.DstAddress))
		return
	}

	if stuck {
		e.storePacket(key, pkt, "path blocked behind stored payload")
		return
	}

	if err := receiver.Receive(ctx, pkt.SrcChainID, srcAddr, pkt.Nonce, pkt.Payload); err != nil {
		e.mu.Lock()
		e.blocked[key] = true
		e.mu.Unlock()
		e.storePacket(key, pkt, err.Error())
	}
}

func (e *KafkaEndpoint) storePacket(key pathKey, pkt Packet, reason string) {
	stored := &StoredPayload{
		SrcChainID: pkt.SrcChainID,
		SrcAddress: pkt.SrcAddress,
		DstChainID: pkt.DstChainID,
		DstAddress: pkt.DstAddress,
		Nonce:      pkt.Nonce,
		Payload:    pkt.Payload,
		Reason:     reason,
	}
	if err := e.store.Store(stored); err != nil {
		e.logger.Error("persist stored payload failed", zap.Error(err))
		return
	}
	e.logger.Warn("payload stored",
		zap.String("path", key.String()),
		zap.Uint64("nonce", pkt.Nonce),
		zap.String("reason", reason))
}

// RetryPayload re-applies stored payloads on the path in order, unblocking it
// once the store drains.
func (e *KafkaEndpoint) RetryPayload(ctx context.Context, srcChainID uint16, srcAddress common.Address, dstAddress common.Address) error {
	rows, err := e.store.ListPath(srcChainID, srcAddress, e.localChainID, dstAddress)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return errors.NewWithKind(errors.KindNotFound).Explain("no stored payload for path")
	}

	e.mu.Lock()
	receiver := e.receivers[dstAddress]
	e.mu.Unlock()
	if receiver == nil {
		return errors.NewWithKind(errors.KindNotFound).Explain("no receiver at %s", dstAddress.Hex())
	}

	for _, row := range rows {
		if err := receiver.Receive(ctx, row.SrcChainID, common.HexToAddress(row.SrcAddress), row.Nonce, row.Payload); err != nil {
			return errors.Wrap(err).Explain("stored payload still failing at nonce %d", row.Nonce)
		}
		if err := e.store.Delete(row.ID); err != nil {
			return err
		}
	}

	key := pathKey{srcChainID, srcAddress, e.localChainID, dstAddress}
	e.mu.Lock()
	delete(e.blocked, key)
	e.mu.Unlock()
	return nil
}

// ForceResumeReceive abandons the path's stored payloads and unblocks it.
func (e *KafkaEndpoint) ForceResumeReceive(srcChainID uint16, srcAddress common.Address, dstAddress common.Address) error {
	rows, err := e.store.ListPath(srcChainID, srcAddress, e.localChainID, dstAddress)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := e.store.Delete(row.ID); err != nil {
			return err
		}
	}

	key := pathKey{srcChainID, srcAddress, e.localChainID, dstAddress}
	e.mu.Lock()
	delete(e.blocked, key)
	e.mu.Unlock()
	e.logger.Warn("path force-resumed", zap.String("path", key.String()), zap.Int("dropped", len(rows)))
	return nil
}

// Close flushes and closes the relay writers.
func (e *KafkaEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var firstErr error
	for _, w := range e.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
