//go:build linux

package keystore

import (
	"encoding/binary"
	"errors"
	"testing"
)

// Corrupted sealed blobs must be rejected during decoding, before any
// command reaches the device.
func TestUnsealRejectsCorruptedBlob(t *testing.T) {
	p := &TPMProvider{devicePath: "/dev/tpmrm0", sealedPath: "unused"}

	if _, err := p.unseal(nil); !errors.Is(err, ErrSealedCorrupted) {
		t.Errorf("nil blob: err = %v, want ErrSealedCorrupted", err)
	}
	if _, err := p.unseal([]byte{1, 2, 3}); !errors.Is(err, ErrSealedCorrupted) {
		t.Errorf("short blob: err = %v, want ErrSealedCorrupted", err)
	}

	// Framing intact but the public area is garbage.
	pub := []byte{0xff, 0xff, 0xff, 0xff}
	blob := make([]byte, 4+len(pub)+4)
	binary.BigEndian.PutUint32(blob[0:4], uint32(len(pub)))
	copy(blob[4:], pub)
	binary.BigEndian.PutUint32(blob[4+len(pub):], 0)

	if _, err := p.unseal(blob); !errors.Is(err, ErrSealedCorrupted) {
		t.Errorf("garbage public area: err = %v, want ErrSealedCorrupted", err)
	}
}
