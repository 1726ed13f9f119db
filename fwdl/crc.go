package fwdl

const crcPoly = 0x31

// CRC8 returns the checksum used by the boot ROM: polynomial 0x31,
// initial value zero, most significant bit first, no reflection or final xor.
func CRC8(b []byte) uint8 {
	var crc uint8
	for _, c := range b {
		crc ^= c
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ crcPoly
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
