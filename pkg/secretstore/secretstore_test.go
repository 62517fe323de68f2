package secretstore

import (
	"encoding/base64"
	"path/filepath"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	st, err := Open(OpenOptions{Path: filepath.Join(t.TempDir(), "secrets")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	if _, found, err := st.Mnemonic(); err != nil || found {
		t.Fatalf("empty store: found=%v err=%v", found, err)
	}
	if err := st.Set(KeyMnemonic, "test test test junk"); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, found, err := st.Mnemonic()
	if err != nil || !found || got != "test test test junk" {
		t.Fatalf("get: %q found=%v err=%v", got, found, err)
	}
}

func TestEncryptedRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	dir := filepath.Join(t.TempDir(), "secrets")
	st, err := Open(OpenOptions{Path: dir, EncryptionKey: key})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := st.Set(KeyPrivateKey, "0xdeadbeef"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	st, err = Open(OpenOptions{Path: dir, EncryptionKey: key, ReadOnly: true})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	got, found, err := st.PrivateKey()
	if err != nil || !found || got != "0xdeadbeef" {
		t.Fatalf("get after reopen: %q found=%v err=%v", got, found, err)
	}
}

func TestParseKey(t *testing.T) {
	if k, err := ParseKey(""); err != nil || k != nil {
		t.Fatalf("empty: %v %v", k, err)
	}
	hex64 := "0x" + "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
	k, err := ParseKey(hex64)
	if err != nil || len(k) != 32 {
		t.Fatalf("hex: len=%d err=%v", len(k), err)
	}
	b64 := base64.StdEncoding.EncodeToString(k)
	k2, err := ParseKey(b64)
	if err != nil || len(k2) != 32 {
		t.Fatalf("base64: len=%d err=%v", len(k2), err)
	}
	if _, err := ParseKey("abcd"); err == nil {
		t.Fatal("short key accepted")
	}
}
