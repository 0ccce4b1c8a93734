package pathoram

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

// Cipher provides bucket-level encryption and decryption. Implementations
// are stateless: the core never shares an encryptor between buckets, and a
// fresh IV is drawn for every call to Encrypt.
type Cipher interface {
	// Encrypt pads plaintext with PKCS#7 and encrypts it under a freshly
	// drawn IV, which is prepended to the returned ciphertext.
	Encrypt(plaintext []byte) ([]byte, error)

	// Decrypt reads the IV prefix, decrypts, and removes PKCS#7 padding.
	Decrypt(ciphertext []byte) ([]byte, error)

	// Overhead is the number of extra bytes Encrypt adds: IV plus any
	// padding needed to reach a multiple of the cipher block size.
	Overhead(plaintextLen int) int
}

// NoOpCipher passes data through unmodified. Use only for testing or when
// an outer transport layer already provides confidentiality.
type NoOpCipher struct{}

func (NoOpCipher) Encrypt(plaintext []byte) ([]byte, error) {
	out := make([]byte, len(plaintext))
	copy(out, plaintext)
	return out, nil
}

func (NoOpCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	out := make([]byte, len(ciphertext))
	copy(out, ciphertext)
	return out, nil
}

func (NoOpCipher) Overhead(plaintextLen int) int { return 0 }

// AESCBCCipher is AES-CBC with a fresh IV per write, PKCS#7 padding, IV
// prepended to the ciphertext. Buckets are rewritten on every access that
// touches them, so IV reuse would leak write-equality between successive
// accesses; a fresh IV per call is the only requirement, and authenticated
// encryption is left as a documented but unimplemented MAC extension point.
type AESCBCCipher struct {
	block cipher.Block
}

const aesBlockSize = aes.BlockSize // 16

// NewAESCBCCipher constructs a cipher from a raw AES key (16, 24, or 32
// bytes selecting AES-128/192/256).
func NewAESCBCCipher(key []byte) (*AESCBCCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("pathoram: new AES cipher: %w", err)
	}
	return &AESCBCCipher{block: block}, nil
}

// Encrypt implements Cipher.
func (c *AESCBCCipher) Encrypt(plaintext []byte) ([]byte, error) {
	padded := pkcs7Pad(plaintext, aesBlockSize)

	out := make([]byte, aesBlockSize+len(padded))
	iv := out[:aesBlockSize]
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	mode := cipher.NewCBCEncrypter(c.block, iv)
	mode.CryptBlocks(out[aesBlockSize:], padded)
	return out, nil
}

// Decrypt implements Cipher.
func (c *AESCBCCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < aesBlockSize || (len(ciphertext)-aesBlockSize)%aesBlockSize != 0 {
		return nil, ErrDecryptionFailed
	}
	iv := ciphertext[:aesBlockSize]
	ct := ciphertext[aesBlockSize:]
	if len(ct) == 0 {
		return nil, ErrDecryptionFailed
	}

	plaintext := make([]byte, len(ct))
	mode := cipher.NewCBCDecrypter(c.block, iv)
	mode.CryptBlocks(plaintext, ct)

	unpadded, err := pkcs7Unpad(plaintext, aesBlockSize)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return unpadded, nil
}

// Overhead implements Cipher: IV plus padding to the next block boundary.
func (c *AESCBCCipher) Overhead(plaintextLen int) int {
	pad := aesBlockSize - (plaintextLen % aesBlockSize)
	return aesBlockSize + pad
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - (len(data) % blockSize)
	out := make([]byte, len(data)+pad)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(pad)
	}
	return out
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("pathoram: invalid padded length")
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > blockSize || pad > len(data) {
		return nil, fmt.Errorf("pathoram: invalid PKCS#7 padding")
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, fmt.Errorf("pathoram: invalid PKCS#7 padding")
		}
	}
	return data[:len(data)-pad], nil
}
