package sliceops

// Reverse returns a reversed copy of in; in is left untouched.
// Bluetooth carries addresses and UUIDs little endian on the wire.
func Reverse(in []byte) []byte {
	out := make([]byte, len(in))
	for i, b := range in {
		out[len(in)-1-i] = b
	}
	return out
}

// ReverseInPlace reverses b and returns it.
func ReverseInPlace(b []byte) []byte {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return b
}
