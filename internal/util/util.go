package util

import "strings"

// BitAt reports bit i of a Modbus bit response (LSB first within each byte).
func BitAt(bs []byte, i int) bool {
	if i < 0 || i/8 >= len(bs) {
		return false
	}
	return bs[i/8]&(1<<(i%8)) != 0
}

func BytesToBinaryString(bs []byte, count int) string {
	var s strings.Builder
	bitsAdded := 0
	for _, b := range bs {
		for i := 0; i < 8 && bitsAdded < count; i++ {
			if b&(1<<i) != 0 {
				s.WriteString("1")
			} else {
				s.WriteString("0")
			}
			bitsAdded++
		}
	}
	return s.String()
}
