package flows

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
)

// Flow endpoint payloads are encrypted end to end: WhatsApp wraps a fresh
// AES-128 key with the business's RSA public key and GCM-encrypts the request
// body with it. The response must be encrypted with the same AES key and the
// request IV with every bit flipped, so a captured response can never be
// replayed as a request.

// ParsePrivateKey loads the business's RSA private key from PEM. Encrypted
// PEM blocks are decrypted with password, which may be empty for unencrypted
// keys. PKCS#1 and PKCS#8 encodings are accepted.
func ParsePrivateKey(pemData []byte, password string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, errors.New("no PEM block found in private key")
	}

	der := block.Bytes
	if x509.IsEncryptedPEMBlock(block) {
		var err error
		der, err = x509.DecryptPEMBlock(block, []byte(password))
		if err != nil {
			return nil, fmt.Errorf("error decrypting private key: %w", err)
		}
	}

	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("error parsing private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return key, nil
}

// envelope is the outer JSON body WhatsApp POSTs to the flow endpoint.
type envelope struct {
	EncryptedFlowData string `json:"encrypted_flow_data" validate:"required"`
	EncryptedAESKey   string `json:"encrypted_aes_key"   validate:"required"`
	InitialVector     string `json:"initial_vector"      validate:"required"`
}

// session holds the per-request AES key and IV recovered from an envelope,
// needed again to encrypt the response.
type session struct {
	aesKey []byte
	iv     []byte
}

// decryptEnvelope unwraps the AES key with RSA-OAEP(SHA-256) and opens the
// GCM-sealed request body. The GCM tag is the trailing 16 bytes of the
// ciphertext.
func decryptEnvelope(key *rsa.PrivateKey, env *envelope) ([]byte, *session, error) {
	wrapped, err := base64.StdEncoding.DecodeString(env.EncryptedAESKey)
	if err != nil {
		return nil, nil, fmt.Errorf("error decoding encrypted aes key: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(env.InitialVector)
	if err != nil {
		return nil, nil, fmt.Errorf("error decoding initial vector: %w", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(env.EncryptedFlowData)
	if err != nil {
		return nil, nil, fmt.Errorf("error decoding encrypted flow data: %w", err)
	}

	aesKey, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, key, wrapped, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("error unwrapping aes key: %w", err)
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(iv))
	if err != nil {
		return nil, nil, fmt.Errorf("error creating gcm: %w", err)
	}

	clear, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("error decrypting flow data: %w", err)
	}

	return clear, &session{aesKey: aesKey, iv: iv}, nil
}

// encryptResponse seals a response body with the request's AES key and the
// bitwise inverse of the request IV, returning it base64 encoded as the
// endpoint's plain-text response body.
func encryptResponse(s *session, clear []byte) (string, error) {
	flipped := make([]byte, len(s.iv))
	for i, b := range s.iv {
		flipped[i] = b ^ 0xFF
	}

	block, err := aes.NewCipher(s.aesKey)
	if err != nil {
		return "", fmt.Errorf("error creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(flipped))
	if err != nil {
		return "", fmt.Errorf("error creating gcm: %w", err)
	}

	sealed := gcm.Seal(nil, flipped, clear, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// MediaEncryption is the encryption_metadata a flow sends alongside a media
// upload, needed to decrypt the CDN file.
type MediaEncryption struct {
	Key           string `json:"encryption_key"`
	HMACKey       string `json:"hmac_key"`
	IV            string `json:"iv"`
	PlaintextHash string `json:"plaintext_hash"`
	EncryptedHash string `json:"encrypted_hash"`
}

// DecryptMedia decrypts a CDN file uploaded through a flow. The file is
// AES-256-CBC encrypted with PKCS#7 padding and carries a truncated
// HMAC-SHA256 trailer; the HMAC, the encrypted-file SHA-256 and the plaintext
// SHA-256 published in the metadata are all verified before the content is
// returned.
func DecryptMedia(cdnFile []byte, enc *MediaEncryption) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(enc.Key)
	if err != nil {
		return nil, fmt.Errorf("error decoding encryption key: %w", err)
	}
	hmacKey, err := base64.StdEncoding.DecodeString(enc.HMACKey)
	if err != nil {
		return nil, fmt.Errorf("error decoding hmac key: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(enc.IV)
	if err != nil {
		return nil, fmt.Errorf("error decoding iv: %w", err)
	}

	if len(cdnFile) < 10+aes.BlockSize {
		return nil, errors.New("cdn file too short")
	}
	ciphertext, trailer := cdnFile[:len(cdnFile)-10], cdnFile[len(cdnFile)-10:]

	mac := hmac.New(sha256.New, hmacKey)
	mac.Write(iv)
	mac.Write(ciphertext)
	if !hmac.Equal(trailer, mac.Sum(nil)[:10]) {
		return nil, errors.New("cdn file failed hmac check")
	}

	if enc.EncryptedHash != "" {
		encSum := sha256.Sum256(cdnFile)
		if hex.EncodeToString(encSum[:]) != enc.EncryptedHash && base64.StdEncoding.EncodeToString(encSum[:]) != enc.EncryptedHash {
			return nil, errors.New("cdn file failed encrypted hash check")
		}
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("error creating cipher: %w", err)
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, errors.New("cdn file is not block aligned")
	}

	clear := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(clear, ciphertext)

	clear, err = unpadPKCS7(clear)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(clear)
	if hex.EncodeToString(sum[:]) != enc.PlaintextHash && base64.StdEncoding.EncodeToString(sum[:]) != enc.PlaintextHash {
		return nil, errors.New("decrypted media failed hash check")
	}

	return clear, nil
}

func unpadPKCS7(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty plaintext")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-n], nil
}
