package protocol

// actionKeys is the key cycle of the action payload obfuscation.
var actionKeys = [9]byte{0x84, 0x5E, 0x4E, 0x42, 0x39, 0xA2, 0x1F, 0x60, 0x1C}

// Deobfuscate removes the XOR layer from a nested action payload in place.
// The key stream depends on len(data), so the whole buffer must be passed at
// once. Applying it twice restores the input.
func Deobfuscate(data []byte) {
	d := len(data)
	for i := range data {
		k := ((23 ^ d) + 5*i + int(actionKeys[i%len(actionKeys)])) & 0xFF
		data[i] ^= byte(k)
	}
}

// Obfuscate applies the same transform, for building action payloads.
func Obfuscate(data []byte) {
	Deobfuscate(data)
}
