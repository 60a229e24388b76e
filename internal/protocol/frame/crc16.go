package frame

// CRC-16 with initial value 0xFFFF and reflected polynomial 0xA001 (MODBUS variant).
const (
	crcInit uint16 = 0xFFFF
	crcPoly uint16 = 0xA001
)

var crcTable = makeCRCTable()

func makeCRCTable() [256]uint16 {
	var table [256]uint16
	for i := range table {
		crc := uint16(i)
		for range 8 {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ crcPoly
			} else {
				crc >>= 1
			}
		}
		table[i] = crc
	}
	return table
}

// Checksum computes the frame CRC16 over b, byte by byte LSB first.
func Checksum(b []byte) uint16 {
	crc := crcInit
	for _, c := range b {
		crc = (crc >> 8) ^ crcTable[byte(crc)^c]
	}
	return crc
}
