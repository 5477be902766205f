package xmodem

// Protocol control bytes.
const (
	SOH byte = 0x01 // start of a 128 byte block
	STX byte = 0x02 // start of a 1024 byte block, not supported by the bootloader
	EOT byte = 0x04 // end of transmission
	ACK byte = 0x06
	NAK byte = 0x15
	CAN byte = 0x18

	// crcProbe solicits the first block in CRC-16 mode.
	crcProbe byte = 'C'
)

// BlockSize is the payload size of a classic XMODEM block.
const BlockSize = 128

// PadByte fills the tail of the final block.
const PadByte byte = 0x1A

// Block is one decoded data block.
type Block struct {
	Num  byte
	Data []byte
}

// checksum returns the additive checksum over data.
func checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

// crc16 computes CRC-16/XMODEM (polynomial 0x1021, zero init) over data.
func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// trimPad strips trailing pad bytes from the final block of a transfer.
func trimPad(data []byte) []byte {
	end := len(data)
	for end > 0 && data[end-1] == PadByte {
		end--
	}
	return data[:end]
}
