package xmodem

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultMaxRetries = 10
	// interByteTimeout bounds the gap between bytes inside one block. The
	// wait for the block itself is the receiver's block timeout.
	interByteTimeout = time.Second
	// purgeTimeout is how long the line must stay quiet before a NAK is
	// sent after a corrupt block.
	purgeTimeout = 200 * time.Millisecond
	// crcProbeAttempts is how many times the CRC handshake is tried before
	// falling back to the additive checksum.
	crcProbeAttempts = 3
)

// errBadBlock marks a block that failed framing or verification and should
// be NAKed.
var errBadBlock = errors.New("corrupt block")

// Receiver drives one XMODEM download over a byte transport and writes the
// payload to out. The retry policy lives here, not in the transport: the
// link layer performs each byte request exactly once.
type Receiver struct {
	link         ByteIO
	out          io.Writer
	maxRetries   int
	blockTimeout time.Duration
	useCRC       bool
	trimPadding  bool
	log          zerolog.Logger
}

// Receive runs the transfer to completion and reports how many payload bytes
// were written.
func (obj *Receiver) Receive() (int64, error) {
	var (
		written  int64
		pending  []byte // last accepted block, held back for pad trimming
		expected byte   = 1
		synced   bool
		crcMode  = obj.useCRC
		retries  int
		probes   int
	)

	flush := func(final bool) error {
		if pending == nil {
			return nil
		}
		data := pending
		pending = nil
		if final && obj.trimPadding {
			data = trimPad(data)
		}
		n, err := obj.out.Write(data)
		written += int64(n)
		if err != nil {
			return fmt.Errorf("failed to write block: %w", err)
		}
		return nil
	}

	solicit := func() error {
		b := NAK
		if crcMode && !synced {
			b = crcProbe
		}
		return obj.link.SendByte(b)
	}

	if err := solicit(); err != nil {
		return written, err
	}

	for {
		first, err := obj.link.ReceiveByte(obj.blockTimeout)
		if err != nil {
			if !errors.Is(err, ErrTimeout) {
				return written, err
			}
			if !synced {
				probes++
				if crcMode && probes >= crcProbeAttempts {
					crcMode = false
					obj.log.Warn().Msg("no answer to CRC handshake, falling back to checksum mode")
				}
			}
			retries++
			if retries > obj.maxRetries {
				obj.cancel()
				return written, ErrRetriesExceeded
			}
			if err := solicit(); err != nil {
				return written, err
			}
			continue
		}

		switch first {
		case SOH:
			blk, err := obj.readBlock(crcMode)
			if err != nil {
				if !errors.Is(err, errBadBlock) && !errors.Is(err, ErrTimeout) {
					return written, err
				}
				retries++
				if retries > obj.maxRetries {
					obj.cancel()
					return written, ErrRetriesExceeded
				}
				obj.log.Warn().Uint8("block", expected).Int("retries", retries).Msg("corrupt block, requesting resend")
				obj.purge()
				if err := obj.link.SendByte(NAK); err != nil {
					return written, err
				}
				continue
			}
			synced = true
			switch blk.Num {
			case expected:
				if err := flush(false); err != nil {
					return written, err
				}
				pending = blk.Data
				if err := obj.link.SendByte(ACK); err != nil {
					return written, err
				}
				obj.log.Debug().Uint8("block", blk.Num).Msg("block accepted")
				expected++
				retries = 0
			case expected - 1:
				// our ACK got lost and the sender repeated the block
				obj.log.Debug().Uint8("block", blk.Num).Msg("duplicate block, acknowledging again")
				if err := obj.link.SendByte(ACK); err != nil {
					return written, err
				}
			default:
				obj.cancel()
				return written, ErrDesync
			}
		case STX:
			obj.cancel()
			return written, fmt.Errorf("1024 byte blocks not supported")
		case EOT:
			if err := obj.link.SendByte(ACK); err != nil {
				return written, err
			}
			if err := flush(true); err != nil {
				return written, err
			}
			obj.log.Info().Int64("bytes", written).Msg("transfer complete")
			return written, nil
		case CAN:
			// two consecutive CANs abort the transfer, a lone one is noise
			if b, err := obj.link.ReceiveByte(interByteTimeout); err == nil && b == CAN {
				return written, ErrCancelled
			}
			fallthrough
		default:
			retries++
			if retries > obj.maxRetries {
				obj.cancel()
				return written, ErrRetriesExceeded
			}
			obj.purge()
			if err := solicit(); err != nil {
				return written, err
			}
		}
	}
}

// readBlock consumes one block after its SOH: block number, complement,
// payload and the trailing check bytes.
func (obj *Receiver) readBlock(crcMode bool) (*Block, error) {
	num, err := obj.recvByte()
	if err != nil {
		return nil, err
	}
	cmpl, err := obj.recvByte()
	if err != nil {
		return nil, err
	}
	if num+cmpl != 0xff {
		return nil, errBadBlock
	}
	data := make([]byte, BlockSize)
	for i := range data {
		if data[i], err = obj.recvByte(); err != nil {
			return nil, err
		}
	}
	if crcMode {
		hi, err := obj.recvByte()
		if err != nil {
			return nil, err
		}
		lo, err := obj.recvByte()
		if err != nil {
			return nil, err
		}
		if crc16(data) != uint16(hi)<<8|uint16(lo) {
			return nil, errBadBlock
		}
	} else {
		sum, err := obj.recvByte()
		if err != nil {
			return nil, err
		}
		if checksum(data) != sum {
			return nil, errBadBlock
		}
	}
	return &Block{Num: num, Data: data}, nil
}

func (obj *Receiver) recvByte() (byte, error) {
	return obj.link.ReceiveByte(interByteTimeout)
}

// purge waits until the line goes quiet so the next NAK is not answered with
// leftovers of the corrupt block.
func (obj *Receiver) purge() {
	for {
		if _, err := obj.link.ReceiveByte(purgeTimeout); err != nil {
			return
		}
	}
}

// cancel tells the sender to stop. Errors are ignored, the transfer is
// already being torn down.
func (obj *Receiver) cancel() {
	_ = obj.link.SendByte(CAN)
	_ = obj.link.SendByte(CAN)
}
