package security

import (
	"bytes"
	"testing"
)

func TestWipe(t *testing.T) {
	data := []byte{0xde, 0xad, 0xbe, 0xef}
	Wipe(data)

	for i, b := range data {
		if b != 0 {
			t.Errorf("byte %d not wiped: %02x", i, b)
		}
	}
}

func TestWipeEmpty(t *testing.T) {
	Wipe(nil)
	Wipe([]byte{})
}

func TestSecureBytesDestroy(t *testing.T) {
	sb := FromBytes([]byte{0xaa, 0xbb, 0xcc})

	if sb.Len() != 3 {
		t.Errorf("expected length 3, got %d", sb.Len())
	}

	cp := sb.Copy()
	if !bytes.Equal(cp, []byte{0xaa, 0xbb, 0xcc}) {
		t.Error("Copy returned wrong data")
	}

	sb.Destroy()
	if sb.Bytes() != nil {
		t.Error("expected nil after Destroy")
	}

	// Destroy must be idempotent.
	sb.Destroy()
}

func TestFromBytesWipesOriginal(t *testing.T) {
	original := []byte{1, 2, 3}
	sb := FromBytes(original)
	defer sb.Destroy()

	for i, b := range original {
		if b != 0 {
			t.Errorf("original byte %d not wiped: %02x", i, b)
		}
	}
}

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey(RecommendedKeySize)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	if len(key) != RecommendedKeySize {
		t.Errorf("expected %d bytes, got %d", RecommendedKeySize, len(key))
	}

	if err := ValidateKeyStrength(key); err != nil {
		t.Errorf("generated key failed strength check: %v", err)
	}
}

func TestGenerateKeyTooSmall(t *testing.T) {
	if _, err := GenerateKey(8); err == nil {
		t.Error("expected error for undersized key")
	}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	master := bytes.Repeat([]byte{0x42}, 32)

	k1, err := DeriveKeyWithLabel(master, "ledger", 32)
	if err != nil {
		t.Fatalf("DeriveKeyWithLabel failed: %v", err)
	}
	k2, err := DeriveKeyWithLabel(master, "ledger", 32)
	if err != nil {
		t.Fatalf("DeriveKeyWithLabel failed: %v", err)
	}

	if !bytes.Equal(k1, k2) {
		t.Error("same label produced different keys")
	}

	k3, err := DeriveKeyWithLabel(master, "export", 32)
	if err != nil {
		t.Fatalf("DeriveKeyWithLabel failed: %v", err)
	}
	if bytes.Equal(k1, k3) {
		t.Error("different labels produced identical keys")
	}
}

func TestDeriveKeyWeakMaster(t *testing.T) {
	if _, err := DeriveKey([]byte("short"), nil, nil, 32); err == nil {
		t.Error("expected error for weak master key")
	}
}

func TestValidateKeyStrength(t *testing.T) {
	if err := ValidateKeyStrength(make([]byte, 32)); err == nil {
		t.Error("all-zero key should fail")
	}
	if err := ValidateKeyStrength([]byte{1, 2}); err == nil {
		t.Error("short key should fail")
	}
}

func TestConstantTimeCompare(t *testing.T) {
	a := []byte{1, 2, 3}
	b := []byte{1, 2, 3}
	c := []byte{1, 2, 4}

	if !ConstantTimeCompare(a, b) {
		t.Error("equal slices compared unequal")
	}
	if ConstantTimeCompare(a, c) {
		t.Error("unequal slices compared equal")
	}
	if ConstantTimeCompare(a, a[:2]) {
		t.Error("different lengths compared equal")
	}
}
