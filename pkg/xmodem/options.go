package xmodem

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// NewReceiver constructs a Receiver with the default settings: CRC-16
// handshake, DefaultReceiveTimeout between blocks and a retry budget of ten.
func NewReceiver(link ByteIO, out io.Writer) *Receiver {
	return &Receiver{
		link:         link,
		out:          out,
		maxRetries:   defaultMaxRetries,
		blockTimeout: DefaultReceiveTimeout,
		useCRC:       true,
		log:          zerolog.Nop(),
	}
}

// ReceiverBuilder stages receiver settings before the transfer starts.
// It is possible to reconfigure only one parameter.
type ReceiverBuilder struct {
	recv *Receiver
}

// NewReceiverBuilder constructs a ReceiverBuilder around default settings.
func NewReceiverBuilder(link ByteIO, out io.Writer) *ReceiverBuilder {
	return &ReceiverBuilder{recv: NewReceiver(link, out)}
}

// MaxRetries sets how often a block is re-requested before giving up.
func (obj *ReceiverBuilder) MaxRetries(n int) *ReceiverBuilder {
	obj.recv.maxRetries = n
	return obj
}

// BlockTimeout sets how long to wait for the start of the next block.
func (obj *ReceiverBuilder) BlockTimeout(d time.Duration) *ReceiverBuilder {
	obj.recv.blockTimeout = d
	return obj
}

// ChecksumOnly skips the CRC handshake and verifies blocks with the additive
// checksum, for senders that predate CRC-16 support.
func (obj *ReceiverBuilder) ChecksumOnly() *ReceiverBuilder {
	obj.recv.useCRC = false
	return obj
}

// TrimPadding strips trailing pad bytes from the final block. Only safe when
// the payload cannot legitimately end in 0x1A.
func (obj *ReceiverBuilder) TrimPadding() *ReceiverBuilder {
	obj.recv.trimPadding = true
	return obj
}

// Logger attaches a structured logger to the transfer.
func (obj *ReceiverBuilder) Logger(log zerolog.Logger) *ReceiverBuilder {
	obj.recv.log = log
	return obj
}

// Build returns the configured Receiver.
func (obj *ReceiverBuilder) Build() *Receiver {
	return obj.recv
}
