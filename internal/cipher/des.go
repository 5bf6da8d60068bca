package cipher

// DES core operating on bit arrays (one byte per bit, value 0 or 1) rather
// than packed words. A bit array is easier to reason about when the byte
// ordering at the boundaries is non-standard, which is the whole point of
// this package: see variant below.

// variant selects which of the vendor's three bit-ordering deviations from
// textbook DES are active, plus whether the end-of-rounds swap is skipped.
// The zero value is NOT meaningful on its own; use vendorVariant or
// textbookVariant.
type variant struct {
	unpackLSB   bool // byte->bit unpacking order for plaintext and key
	packLSB     bool // bit->byte packing order at FP output
	sboxLSB     bool // S-box 4-bit output extraction order
	noFinalSwap bool // skip the L16/R16 swap before FP
}

// vendorVariant reproduces the DVR's observed behavior bit-for-bit.
var vendorVariant = variant{unpackLSB: true, packLSB: true, sboxLSB: true, noFinalSwap: true}

// textbookVariant is standard FIPS 46-3 DES, used only to cross-check the
// table-driven implementation against a reference (crypto/des) in tests.
var textbookVariant = variant{unpackLSB: false, packLSB: false, sboxLSB: false, noFinalSwap: false}

// unpackBits expands each byte of data into 8 entries of a 0/1 array.
// lsbFirst selects (b>>0)&1 .. (b>>7)&1 per byte; otherwise the standard
// (b>>7)&1 .. (b>>0)&1 order.
func unpackBits(data []byte, lsbFirst bool) []byte {
	bits := make([]byte, len(data)*8)
	for i, b := range data {
		for j := 0; j < 8; j++ {
			shift := uint(j)
			if !lsbFirst {
				shift = uint(7 - j)
			}
			bits[i*8+j] = (b >> shift) & 1
		}
	}
	return bits
}

// packBits is the exact inverse of unpackBits for the same lsbFirst value.
func packBits(bits []byte, lsbFirst bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, bit := range bits {
		byteIdx := i / 8
		bitIdx := i % 8
		shift := uint(bitIdx)
		if !lsbFirst {
			shift = uint(7 - bitIdx)
		}
		out[byteIdx] |= bit << shift
	}
	return out
}

// permute returns a new bit array where output[i] = input[table[i]-1],
// i.e. FIPS-style 1-indexed permutation tables applied directly.
func permute(input []byte, table []int) []byte {
	out := make([]byte, len(table))
	for i, pos := range table {
		out[i] = input[pos-1]
	}
	return out
}

func xorBits(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

func leftRotate(bits []byte, n int) []byte {
	n = n % len(bits)
	out := make([]byte, len(bits))
	copy(out, bits[n:])
	copy(out[len(bits)-n:], bits[:n])
	return out
}

// sboxExtract places the 4-bit S-box output v into a 4-entry bit array.
// lsbFirst selects (v>>0)&1..(v>>3)&1; otherwise the standard (v>>3)&1..(v>>0)&1.
func sboxExtract(v int, lsbFirst bool) [4]byte {
	var bits [4]byte
	for k := 0; k < 4; k++ {
		shift := uint(k)
		if !lsbFirst {
			shift = uint(3 - k)
		}
		bits[k] = byte((v >> shift) & 1)
	}
	return bits
}

// feistel computes f(R, K) = P(S(E(R) xor K)) over bit arrays. r is 32
// bits, key is 48 bits, result is 32 bits.
func feistel(r, key []byte, sboxLSB bool) []byte {
	expanded := permute(r, eTable[:])
	x := xorBits(expanded, key)
	sub := make([]byte, 32)
	for i := 0; i < 8; i++ {
		chunk := x[i*6 : i*6+6]
		row := int(chunk[0])*2 + int(chunk[5])
		col := int(chunk[1])*8 + int(chunk[2])*4 + int(chunk[3])*2 + int(chunk[4])
		v := sBoxes[i][row][col]
		out := sboxExtract(v, sboxLSB)
		copy(sub[i*4:i*4+4], out[:])
	}
	return permute(sub, pTable[:])
}

// roundKeys derives the 16 48-bit round keys K1..K16 (index 0..15) from an
// 8-byte key, honoring the unpack deviation on the key schedule's input.
func roundKeys(key [8]byte, v variant) [16][]byte {
	keyBits := unpackBits(key[:], v.unpackLSB)
	cd := permute(keyBits, pc1Table[:])
	c := append([]byte{}, cd[:28]...)
	d := append([]byte{}, cd[28:]...)
	var out [16][]byte
	for round := 0; round < 16; round++ {
		c = leftRotate(c, shiftSchedule[round])
		d = leftRotate(d, shiftSchedule[round])
		merged := make([]byte, 56)
		copy(merged, c)
		copy(merged[28:], d)
		out[round] = permute(merged, pc2Table[:])
	}
	return out
}

// encryptBlock encrypts one 8-byte block under key using the given variant.
func encryptBlock(block, key [8]byte, v variant) [8]byte {
	keys := roundKeys(key, v)
	plainBits := unpackBits(block[:], v.unpackLSB)
	ipOut := permute(plainBits, ipTable[:])
	l := ipOut[:32]
	r := ipOut[32:]
	for round := 0; round < 16; round++ {
		newR := xorBits(l, feistel(r, keys[round], v.sboxLSB))
		l, r = r, newR
	}
	var preOutput []byte
	if v.noFinalSwap {
		preOutput = append(append([]byte{}, l...), r...)
	} else {
		preOutput = append(append([]byte{}, r...), l...)
	}
	fpOut := permute(preOutput, fpTable[:])
	packed := packBits(fpOut, v.packLSB)
	var out [8]byte
	copy(out[:], packed)
	return out
}

// decryptBlock inverts encryptBlock. See DESIGN.md for the derivation of
// why the no-swap variant needs one extra explicit swap before the
// reversed-key round loop that the standard swapping variant does not; the
// swap after the loop is common to both variants.
func decryptBlock(cipherBlock, key [8]byte, v variant) [8]byte {
	keys := roundKeys(key, v)
	cipherBits := unpackBits(cipherBlock[:], v.packLSB)
	preBits := permute(cipherBits, ipTable[:])
	a := append([]byte{}, preBits[:32]...)
	b := append([]byte{}, preBits[32:]...)
	if v.noFinalSwap {
		a, b = b, a
	}
	for round := 15; round >= 0; round-- {
		newB := xorBits(a, feistel(b, keys[round], v.sboxLSB))
		a, b = b, newB
	}
	a, b = b, a
	preOutPlain := append(append([]byte{}, a...), b...)
	fpOut := permute(preOutPlain, fpTable[:])
	packed := packBits(fpOut, v.unpackLSB)
	var out [8]byte
	copy(out[:], packed)
	return out
}
