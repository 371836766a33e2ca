// Package security provides security utilities for shieldd.
//
// This package implements:
// - Secure memory wiping (prevents key recovery from memory)
// - Memory locking (prevents swapping of sensitive data)
// - Constant-time comparisons (prevents timing attacks)
// - Key derivation with domain separation
package security

import (
	"crypto/subtle"
	"runtime"
)

// Wipe overwrites a byte slice with zeros.
// Uses an explicit loop plus a memory barrier so the compiler
// cannot elide the writes.
func Wipe(data []byte) {
	if len(data) == 0 {
		return
	}

	for i := range data {
		data[i] = 0
	}

	runtime.KeepAlive(data)
}

// Wipe32 overwrites a [32]byte array with zeros.
func Wipe32(data *[32]byte) {
	if data == nil {
		return
	}
	Wipe(data[:])
}

// ConstantTimeCompare compares two byte slices in constant time.
// Returns true if they are equal, false otherwise.
func ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
