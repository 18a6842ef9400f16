package decoder

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"unicode/utf8"
)

// DecryptList decrypts the imgsrcs payload with AES-CBC and zero-byte
// padding: every block is decrypted and trailing NUL bytes are stripped,
// no PKCS#7 validation takes place.
func DecryptList(ciphertext, key, iv []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", &DecryptionError{Err: err}
	}

	if len(iv) != block.BlockSize() {
		return "", &DecryptionError{Err: fmt.Errorf("iv length %d does not match block size %d", len(iv), block.BlockSize())}
	}
	if len(ciphertext) == 0 {
		return "", &DecryptionError{Err: errors.New("empty ciphertext")}
	}
	if len(ciphertext)%block.BlockSize() != 0 {
		return "", &DecryptionError{Err: fmt.Errorf("ciphertext length %d is not a multiple of the block size", len(ciphertext))}
	}

	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)
	plain = bytes.TrimRight(plain, "\x00")

	if !utf8.Valid(plain) {
		return "", &DecryptionError{Err: errors.New("plaintext is not valid UTF-8, wrong key or iv")}
	}

	return string(plain), nil
}

// EncryptList is the inverse of DecryptList. The site never needs it; it
// exists so fixtures can be produced from a known plaintext.
func EncryptList(plaintext, key, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != block.BlockSize() {
		return nil, fmt.Errorf("iv length %d does not match block size %d", len(iv), block.BlockSize())
	}

	padded := plaintext
	if rem := len(padded) % block.BlockSize(); rem != 0 || len(padded) == 0 {
		padded = append(append([]byte(nil), plaintext...), make([]byte, block.BlockSize()-rem)...)
	}

	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}
