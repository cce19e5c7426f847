// Package protocol sends chunked outbound text to a node, waits for device
// ACKs, and retries per the configured policy.
package protocol

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/taedryn/mesh-citadel/internal/packets"
	"github.com/taedryn/mesh-citadel/internal/radio"
	"github.com/taedryn/mesh-citadel/internal/radio/codec"
	"github.com/taedryn/mesh-citadel/internal/session"
)

// Config carries the tunables the transport.meshcore configuration section
// exposes for the protocol layer.
type Config struct {
	MaxPacketSize      int
	InterPacketDelay   time.Duration
	AckTimeout         time.Duration
	MaxRetries         int
	MaxFloodAttempts   int
	FloodAfter         int
	SendTimeout        time.Duration
}

// DefaultConfig returns the protocol layer's default tunables.
func DefaultConfig() Config {
	return Config{
		MaxPacketSize:    codec.DefaultMaxFrameLength,
		InterPacketDelay: 500 * time.Millisecond,
		AckTimeout:       8 * time.Second,
		MaxRetries:       3,
		MaxFloodAttempts: 1,
		FloodAfter:       0,
		SendTimeout:      8 * time.Second,
	}
}

// Handler is the Protocol Handler. It owns the ACK table and drives
// send-and-wait against a radio.Device.
type Handler struct {
	device radio.Device
	cfg    Config
	acks   *ackTable

	// formatTimestamp lets callers plug in the BBS's configured timestamp
	// format.
	formatTimestamp func(time.Time) string
}

func New(device radio.Device, cfg Config, formatTimestamp func(time.Time) string) *Handler {
	return &Handler{
		device:          device,
		cfg:             cfg,
		acks:            newAckTable(nil),
		formatTimestamp: formatTimestamp,
	}
}

// HandleAck stores code -> now, refreshing stale entries.
func (h *Handler) HandleAck(event radio.Event) {
	codeVal, ok := event.Payload["code"]
	if !ok {
		log.Warn("protocol: received an ACK without a code")
		return
	}
	code := toHexString(codeVal)
	log.Debugf("protocol: received ACK with code %s", code)
	h.acks.Handle(code)
}

func toHexString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return hex.EncodeToString(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// getAck polls the ACK table for code, once a second, until it matches
// fresh or the timeout elapses.
func (h *Handler) getAck(ctx context.Context, code string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	poll := time.Second
	if timeout < poll {
		poll = timeout / 10
		if poll <= 0 {
			poll = time.Millisecond
		}
	}
	for {
		if h.acks.TryConsume(code) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(poll):
		}
	}
}

// SendPacket issues send_msg (or send_msg_with_retry if supported) for a
// single, already-sized chunk and waits for its ACK. A plain false/nil
// return means the send was attempted but never acknowledged; a non-nil
// error is a *session.SendFailure categorizing a problem with the attempt
// itself (the device/transport, or the reply it returned).
func (h *Handler) SendPacket(ctx context.Context, nodeID, username, chunk string) (bool, error) {
	reqID := uuid.NewString()
	log.Debugf("protocol[%s]: sending packet to %s at %s: %d bytes", reqID, username, nodeID, len(chunk))

	var result radio.Result
	if h.device.RetrySupported() {
		result = h.device.SendMsgWithRetry(ctx, nodeID, chunk,
			h.cfg.MaxRetries, h.cfg.MaxFloodAttempts, h.cfg.FloodAfter, h.cfg.SendTimeout)
	} else {
		result = h.sendWithManualRetry(ctx, nodeID, chunk)
	}

	if result.Failed() {
		log.Errorf("protocol[%s]: failed to send to %s at %s: %v", reqID, username, nodeID, result.Err)
		return false, &session.SendFailure{Kind: session.FailureNetwork, Err: result.Err}
	}

	payload, ok := result.Payload.(radio.SendMsgPayload)
	if !ok {
		log.Errorf("protocol[%s]: unexpected send_msg payload type", reqID)
		return false, &session.SendFailure{
			Kind: session.FailureData,
			Err:  fmt.Errorf("protocol: unexpected send_msg payload type %T", result.Payload),
		}
	}
	expectedAck := hex.EncodeToString(payload.ExpectedAck)

	ackTimeout := h.cfg.AckTimeout
	if ackTimeout <= 0 {
		ackTimeout = DefaultConfig().AckTimeout
	}
	log.Debugf("protocol[%s]: waiting for ACK %s (timeout %s)", reqID, expectedAck, ackTimeout)

	if h.getAck(ctx, expectedAck, ackTimeout) {
		log.Debugf("protocol[%s]: ACK received for packet to %s", reqID, nodeID)
		return true, nil
	}
	log.Debugf("protocol[%s]: ACK timeout for packet to %s", reqID, nodeID)
	return false, nil
}

// sendWithManualRetry wraps send_msg with up to MaxRetries attempts, 1s
// delay between attempts, used when the device has no built-in retry
// command.
func (h *Handler) sendWithManualRetry(ctx context.Context, nodeID, chunk string) radio.Result {
	maxRetries := h.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var last radio.Result
	for attempt := 0; attempt < maxRetries; attempt++ {
		last = h.device.SendMsg(ctx, nodeID, chunk)
		if !last.Failed() {
			return last
		}
		log.Warnf("protocol: send attempt %d failed: %v", attempt+1, last.Err)
		if attempt < maxRetries-1 {
			select {
			case <-ctx.Done():
				return last
			case <-time.After(time.Second):
			}
		}
	}
	return last
}

// SendToNode accepts a string, a packets.ToUser, or a slice of them,
// chunks each into radio-safe frames, and sends them in order separated by
// InterPacketDelay. Returns true only if the final chunk of the final
// message was acknowledged. A non-nil error aborts immediately with the
// categorized failure from the chunk that caused it.
func (h *Handler) SendToNode(ctx context.Context, nodeID, username string, message any) (bool, error) {
	texts := h.resolveTexts(message)

	success := false
	for _, text := range texts {
		chunks := codec.Chunk(text, h.cfg.MaxPacketSize)
		for _, chunk := range chunks {
			var err error
			success, err = h.SendPacket(ctx, nodeID, username, chunk)
			if err != nil {
				return false, err
			}
			select {
			case <-ctx.Done():
				return success, nil
			case <-time.After(h.cfg.InterPacketDelay):
			}
		}
	}
	return success, nil
}

func (h *Handler) resolveTexts(message any) []string {
	switch m := message.(type) {
	case string:
		return []string{m}
	case packets.ToUser:
		return []string{h.textOf(m)}
	case []packets.ToUser:
		texts := make([]string, 0, len(m))
		for _, tu := range m {
			texts = append(texts, h.textOf(tu))
		}
		return texts
	default:
		return []string{codec.ChunkInvalid()[0]}
	}
}

func (h *Handler) textOf(tu packets.ToUser) string {
	if tu.Message != nil {
		return packets.FormatMessage(tu.Message, h.formatTimestamp)
	}
	return tu.Text
}
