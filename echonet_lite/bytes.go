package echonet_lite

// Uint32ToBytes は n の下位 size バイトをビッグエンディアンで返します。size は 1〜4。
func Uint32ToBytes(n uint32, size int) []byte {
	if size < 1 || size > 4 {
		panic("size must be 1, 2, 3, or 4")
	}
	b := make([]byte, size)
	for i := size - 1; i >= 0; i-- {
		b[i] = byte(n)
		n >>= 8
	}
	return b
}

// BytesToUint32 はビッグエンディアンの 1〜4 バイトを数値に変換します。
func BytesToUint32(b []byte) uint32 {
	if len(b) < 1 || len(b) > 4 {
		panic("slice length must be 1, 2, 3, or 4")
	}
	var n uint32
	for _, v := range b {
		n = n<<8 | uint32(v)
	}
	return n
}

func flattenBytes(chunks [][]byte) []byte {
	total := 0
	for _, chunk := range chunks {
		total += len(chunk)
	}
	result := make([]byte, 0, total)
	for _, chunk := range chunks {
		result = append(result, chunk...)
	}
	return result
}
