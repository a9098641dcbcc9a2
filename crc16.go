package clusterc

// CRC16-CCITT (XModem), the checksum redis cluster uses to map keys to
// hash slots.

const crc16Poly = 0x1021

var crc16Tab [256]uint16

func init() {
	for i := range crc16Tab {
		crc := uint16(i) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ crc16Poly
			} else {
				crc <<= 1
			}
		}
		crc16Tab[i] = crc
	}
}

func crc16(key string) uint16 {
	var crc uint16
	for i := 0; i < len(key); i++ {
		crc = crc<<8 ^ crc16Tab[byte(crc>>8)^key[i]]
	}
	return crc
}
