package ntag

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// rb is the constant used for subkey generation with a 128-bit block cipher (RFC 4493).
const rb = 0x87

// CMAC computes the AES-CMAC (RFC 4493) of msg under key.
func CMAC(key, msg []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("invalid AES key: %w", err)
	}
	return cmacBlock(block, msg), nil
}

func cmacBlock(block cipher.Block, msg []byte) []byte {
	k1, k2 := subkeys(block)

	n := (len(msg) + aes.BlockSize - 1) / aes.BlockSize
	complete := n > 0 && len(msg)%aes.BlockSize == 0
	if n == 0 {
		n = 1
	}

	last := make([]byte, aes.BlockSize)
	tail := msg[(n-1)*aes.BlockSize:]
	if complete {
		xor(last, tail, k1)
	} else {
		padded := make([]byte, aes.BlockSize)
		copy(padded, tail)
		padded[len(tail)] = 0x80
		xor(last, padded, k2)
	}

	x := make([]byte, aes.BlockSize)
	y := make([]byte, aes.BlockSize)
	for i := 0; i < n-1; i++ {
		xor(y, x, msg[i*aes.BlockSize:(i+1)*aes.BlockSize])
		block.Encrypt(x, y)
	}
	xor(y, x, last)
	block.Encrypt(x, y)
	return x
}

func subkeys(block cipher.Block) (k1, k2 []byte) {
	l := make([]byte, aes.BlockSize)
	block.Encrypt(l, l)
	k1 = shiftLeft(l)
	if l[0]&0x80 != 0 {
		k1[aes.BlockSize-1] ^= rb
	}
	k2 = shiftLeft(k1)
	if k1[0]&0x80 != 0 {
		k2[aes.BlockSize-1] ^= rb
	}
	return k1, k2
}

func shiftLeft(in []byte) []byte {
	out := make([]byte, len(in))
	var carry byte
	for i := len(in) - 1; i >= 0; i-- {
		out[i] = in[i]<<1 | carry
		carry = in[i] >> 7
	}
	return out
}

func xor(dst, a, b []byte) {
	for i := range dst {
		dst[i] = a[i] ^ b[i]
	}
}
