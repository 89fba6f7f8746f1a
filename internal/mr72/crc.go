package mr72

// crcPoly is the MR72 CRC8 generator polynomial (x^8 + x^5 + x^4 + 1),
// processed MSB-first with a zero initial value.
const crcPoly = 0x31

var crcTable = makeCRCTable(crcPoly)

func makeCRCTable(poly byte) [256]byte {
	var t [256]byte
	for i := range t {
		crc := byte(i)
		for range 8 {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ poly
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}

// CRC8 computes the frame checksum over data.
func CRC8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc = crcTable[crc^b]
	}
	return crc
}
