package crypt

import (
	"errors"
	"fmt"
)

// Plaintexts are padded ISO/IEC 7816-4 style (0x80 then zeros) up to the
// next bucket so ciphertext length leaks only a coarse size class.
const (
	smallBucket = 256
	largeBucket = 4096
	smallLimit  = 16 << 10
)

var errBadPadding = errors.New("bad padding")

func padSize(n int) int {
	n++ // 0x80 marker
	b := smallBucket
	if n > smallLimit {
		b = largeBucket
	}
	return (n + b - 1) / b * b
}

func pad(plaintext []byte) []byte {
	out := make([]byte, padSize(len(plaintext)))
	copy(out, plaintext)
	out[len(plaintext)] = 0x80
	return out
}

func unpad(padded []byte) ([]byte, error) {
	for i := len(padded) - 1; i >= 0; i-- {
		switch padded[i] {
		case 0:
			continue
		case 0x80:
			return padded[:i], nil
		default:
			return nil, fmt.Errorf("%w: unexpected byte %#x", errBadPadding, padded[i])
		}
	}
	return nil, fmt.Errorf("%w: no marker", errBadPadding)
}
