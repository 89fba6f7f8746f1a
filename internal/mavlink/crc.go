package mavlink

// crcInit is the seed of the MAVLink checksum (CRC-16/MCRF4XX, "X.25").
const crcInit uint16 = 0xFFFF

func crcAccumulate(b byte, crc uint16) uint16 {
	tmp := b ^ byte(crc)
	tmp ^= tmp << 4
	return crc>>8 ^ uint16(tmp)<<8 ^ uint16(tmp)<<3 ^ uint16(tmp)>>4
}

// Checksum computes the X.25 checksum of data, seeded with crcInit.
func Checksum(data []byte) uint16 {
	crc := crcInit
	for _, b := range data {
		crc = crcAccumulate(b, crc)
	}
	return crc
}

// frameChecksum covers the frame after the start byte plus the per-message
// CRC_EXTRA seed byte.
func frameChecksum(headerAndPayload []byte, extra byte) uint16 {
	crc := Checksum(headerAndPayload)
	return crcAccumulate(extra, crc)
}
