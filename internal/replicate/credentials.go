package replicate

import (
	"bufio"
	"bytes"
	"crypto/cipher"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/blowfish"
)

// credentialIV is the fixed CBC initialization vector used for endpoint
// credential transport. Kept for compatibility with existing deployments.
var credentialIV = []byte("OPSI1234")

// DecryptCredential decrypts a hex-encoded, Blowfish-CBC-encrypted
// credential using the endpoint's hex-encoded secret as the key.
// Trailing zero padding is stripped.
func DecryptCredential(keyHex, cipherHex string) (string, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return "", fmt.Errorf("decrypt credential: bad key: %w", err)
	}
	data, err := hex.DecodeString(cipherHex)
	if err != nil {
		return "", fmt.Errorf("decrypt credential: bad ciphertext: %w", err)
	}
	if len(data) == 0 || len(data)%blowfish.BlockSize != 0 {
		return "", fmt.Errorf("decrypt credential: ciphertext length %d not a multiple of block size", len(data))
	}
	block, err := blowfish.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("decrypt credential: %w", err)
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, credentialIV).CryptBlocks(out, data)
	return string(bytes.TrimRight(out, "\x00")), nil
}

// EncryptCredential is the inverse of DecryptCredential: cleartext is
// zero-padded to the block size, encrypted and hex-encoded. Used when
// provisioning endpoints and by tests.
func EncryptCredential(keyHex, cleartext string) (string, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return "", fmt.Errorf("encrypt credential: bad key: %w", err)
	}
	block, err := blowfish.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("encrypt credential: %w", err)
	}
	data := []byte(cleartext)
	if rem := len(data) % blowfish.BlockSize; rem != 0 {
		data = append(data, make([]byte, blowfish.BlockSize-rem)...)
	}
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, credentialIV).CryptBlocks(out, data)
	return hex.EncodeToString(out), nil
}

// WriteKeyValueFile writes pairs as "key = value" lines, one per line, in
// the given order. The files written during bootstrap are read back by
// offline capability checks between bootstraps.
func WriteKeyValueFile(path string, pairs [][2]string) error {
	var b strings.Builder
	for _, kv := range pairs {
		fmt.Fprintf(&b, "%s = %s\n", kv[0], kv[1])
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("write key-value file: %w", err)
	}
	return nil
}

// ReadKeyValueFile parses a "key = value" file written by
// WriteKeyValueFile. Blank lines are skipped; later duplicates win.
func ReadKeyValueFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read key-value file: %w", err)
	}
	defer f.Close()

	out := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			return nil, fmt.Errorf("read key-value file: malformed line %q", line)
		}
		out[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read key-value file: %w", err)
	}
	return out, nil
}
