// Package radio declares the contract this core expects from the
// USB-attached mesh companion device: the vendor radio driver is an
// external collaborator, and this package only pins down the
// command/event surface the rest of the engine programs against.
package radio

import (
	"context"
	"time"
)

// ResultType mirrors the device's {type, payload} envelope — every command
// reply is either OK or ERROR.
type ResultType int

const (
	OK ResultType = iota
	ERROR
)

// Result is the generic device command reply.
type Result struct {
	Type    ResultType
	Payload any
	Err     error
}

func (r Result) Failed() bool {
	return r.Type == ERROR || r.Err != nil
}

// SendMsgPayload is the payload of a successful send_msg reply: the device
// assigns an ACK code the caller must wait for.
type SendMsgPayload struct {
	ExpectedAck []byte
}

// ContactInfo is the payload of get_contact_by_key_prefix.
type ContactInfo struct {
	PublicKey     string
	AdvName       string
	Type          int
	Latitude      float64
	Longitude     float64
	RawAdvertData string
}

// EventType enumerates the events the device emits asynchronously.
type EventType int

const (
	EventContactMsgRecv EventType = iota
	EventAdvertisement
	EventNewContact
	EventAck
)

// Event is a single asynchronous device event.
type Event struct {
	Type    EventType
	Payload map[string]any
}

// Device is the command set this contract describes. Implementations talk
// to the real mesh companion over serial/USB; internal/radio/fake provides
// an in-memory double for tests.
type Device interface {
	SetTime(ctx context.Context, unixSecs int64) Result
	SetRadio(ctx context.Context, freqMHz, bwKHz float64, sf, cr int) Result
	SetTxPower(ctx context.Context, dBm int) Result
	SetName(ctx context.Context, name string) Result
	SetMultiAcks(ctx context.Context, enabled bool) Result
	SetManualAddContacts(ctx context.Context, enabled bool) Result

	GetContacts(ctx context.Context) Result // payload: []string key prefixes
	GetContactByKeyPrefix(ctx context.Context, prefix string) Result
	AddContact(ctx context.Context, rawAdvert string) Result
	RemoveContact(ctx context.Context, publicKey string) Result

	SendAdvert(ctx context.Context, flood bool) Result
	SendMsg(ctx context.Context, nodeID, text string) Result
	// SendMsgWithRetry is optional; RetrySupported reports whether the
	// underlying device exposes it.
	SendMsgWithRetry(ctx context.Context, nodeID, text string, maxRetries, maxFloodAttempts, floodAfter int, sendTimeout time.Duration) Result
	RetrySupported() bool

	ExportPrivateKey(ctx context.Context) Result
	SendDeviceQuery(ctx context.Context) Result
	EnsureContacts(ctx context.Context) Result

	// Events returns the channel of asynchronous device events. Closed
	// when the device handle is closed.
	Events() <-chan Event
	Close() error
}
