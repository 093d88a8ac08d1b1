package encrypt

import (
	"bytes"
	"testing"
)

func TestAESGCM_EncryptDecrypt(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	enc, err := NewAESGCM(key)
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}

	plaintext := []byte("coffee shop downtown near the central library")

	ciphertext, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("encryption failed: %v", err)
	}

	if len(ciphertext) != len(plaintext)+NonceSize+TagSize {
		t.Errorf("unexpected ciphertext length: got %d, want %d",
			len(ciphertext), len(plaintext)+NonceSize+TagSize)
	}

	decrypted, err := enc.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("decryption failed: %v", err)
	}

	if !bytes.Equal(plaintext, decrypted) {
		t.Errorf("decrypted text doesn't match original\ngot: %s\nwant: %s", decrypted, plaintext)
	}
}

func TestAESGCM_FreshIVPerEncryption(t *testing.T) {
	key, _ := GenerateKey()
	enc, _ := NewAESGCM(key)

	plaintext := bytes.Repeat([]byte("x"), 1024)

	ct1, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("first encryption failed: %v", err)
	}
	ct2, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("second encryption failed: %v", err)
	}

	if bytes.Equal(ct1, ct2) {
		t.Error("encrypting the same plaintext twice produced identical ciphertexts")
	}

	for _, ct := range [][]byte{ct1, ct2} {
		pt, err := enc.Decrypt(ct)
		if err != nil {
			t.Fatalf("decryption failed: %v", err)
		}
		if !bytes.Equal(pt, plaintext) {
			t.Error("decrypted text doesn't match original")
		}
	}
}

func TestAESGCM_TamperedCiphertext(t *testing.T) {
	key, _ := GenerateKey()
	enc, _ := NewAESGCM(key)

	plaintext := []byte("secret node payload")
	ciphertext, _ := enc.Encrypt(plaintext)

	for i := range ciphertext {
		tampered := make([]byte, len(ciphertext))
		copy(tampered, ciphertext)
		tampered[i] ^= 0x01

		if _, err := enc.Decrypt(tampered); err != ErrDecryptionFailed {
			t.Fatalf("decrypting ciphertext with byte %d flipped: got %v, want ErrDecryptionFailed", i, err)
		}
	}
}

func TestAESGCM_WrongKey(t *testing.T) {
	key1, _ := GenerateKey()
	key2, _ := GenerateKey()

	enc1, _ := NewAESGCM(key1)
	enc2, _ := NewAESGCM(key2)

	ciphertext, _ := enc1.Encrypt([]byte("secret message"))

	if _, err := enc2.Decrypt(ciphertext); err != ErrDecryptionFailed {
		t.Errorf("decryption with wrong key: got %v, want ErrDecryptionFailed", err)
	}
}

func TestAESGCM_InvalidKeySize(t *testing.T) {
	for _, size := range []int{0, 8, 15, 17, 32} {
		if _, err := NewAESGCM(make([]byte, size)); err != ErrInvalidKey {
			t.Errorf("key size %d: got %v, want ErrInvalidKey", size, err)
		}
	}
}

func TestAESGCM_EmptyPlaintext(t *testing.T) {
	key, _ := GenerateKey()
	enc, _ := NewAESGCM(key)

	ciphertext, err := enc.Encrypt(nil)
	if err != nil {
		t.Fatalf("encrypting empty plaintext failed: %v", err)
	}

	decrypted, err := enc.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("decrypting empty plaintext failed: %v", err)
	}
	if len(decrypted) != 0 {
		t.Errorf("expected empty plaintext, got %d bytes", len(decrypted))
	}
}

func TestDeriveKey(t *testing.T) {
	key, salt, err := DeriveKeyWithSalt("hunter2")
	if err != nil {
		t.Fatalf("key derivation failed: %v", err)
	}
	if len(key) != KeySize {
		t.Fatalf("derived key has %d bytes, want %d", len(key), KeySize)
	}

	again := DeriveKey("hunter2", salt)
	if !bytes.Equal(key, again) {
		t.Error("deriving with the same password and salt produced a different key")
	}

	other := DeriveKey("hunter3", salt)
	if bytes.Equal(key, other) {
		t.Error("different passwords produced the same key")
	}
}
