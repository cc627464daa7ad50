package flows

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nyaruka/gocommon/httpx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

// seal builds the envelope WhatsApp would POST for the given clear request.
func seal(t *testing.T, pub *rsa.PublicKey, clear []byte) (*envelope, []byte, []byte) {
	aesKey := make([]byte, 16)
	iv := make([]byte, 12)
	_, err := rand.Read(aesKey)
	require.NoError(t, err)
	_, err = rand.Read(iv)
	require.NoError(t, err)

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, aesKey, nil)
	require.NoError(t, err)

	block, err := aes.NewCipher(aesKey)
	require.NoError(t, err)
	gcm, err := cipher.NewGCMWithNonceSize(block, len(iv))
	require.NoError(t, err)

	return &envelope{
		EncryptedFlowData: base64.StdEncoding.EncodeToString(gcm.Seal(nil, iv, clear, nil)),
		EncryptedAESKey:   base64.StdEncoding.EncodeToString(wrapped),
		InitialVector:     base64.StdEncoding.EncodeToString(iv),
	}, aesKey, iv
}

// open decrypts an endpoint response the way the WhatsApp client does, with
// the session key and the request IV bit-flipped.
func open(t *testing.T, aesKey, iv []byte, sealed string) []byte {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	require.NoError(t, err)

	flipped := make([]byte, len(iv))
	for i, b := range iv {
		flipped[i] = b ^ 0xFF
	}

	block, err := aes.NewCipher(aesKey)
	require.NoError(t, err)
	gcm, err := cipher.NewGCMWithNonceSize(block, len(flipped))
	require.NoError(t, err)

	clear, err := gcm.Open(nil, flipped, raw, nil)
	require.NoError(t, err)
	return clear
}

func post(e *Endpoint, env *envelope) *httptest.ResponseRecorder {
	body, _ := json.Marshal(env)
	req := httptest.NewRequest("POST", "/flow", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestEndpointPing(t *testing.T) {
	key := testKey(t)
	e := NewEndpoint(key, nil, nil, slog.Default())

	env, aesKey, iv := seal(t, &key.PublicKey, []byte(`{"version":"3.0","action":"ping"}`))
	rec := post(e, env)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"version":"3.0","data":{"status":"active"}}`, string(open(t, aesKey, iv, rec.Body.String())))

	// a versionless ping still gets a versioned answer
	env, aesKey, iv = seal(t, &key.PublicKey, []byte(`{"action":"ping"}`))
	rec = post(e, env)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"version":"3.0","data":{"status":"active"}}`, string(open(t, aesKey, iv, rec.Body.String())))
}

func TestEndpointDataExchange(t *testing.T) {
	key := testKey(t)

	handler := func(ctx context.Context, req *Request) (*Response, error) {
		assert.Equal(t, "data_exchange", req.Action)
		assert.Equal(t, "BOOKING", req.Screen)
		assert.Equal(t, "tok-1", req.FlowToken)
		assert.Equal(t, "2", req.Data["seats"])
		return &Response{Screen: "CONFIRM", Data: map[string]any{"price": "40"}}, nil
	}
	e := NewEndpoint(key, handler, nil, slog.Default())

	env, aesKey, iv := seal(t, &key.PublicKey, []byte(`{
		"version": "3.0",
		"action": "data_exchange",
		"screen": "BOOKING",
		"flow_token": "tok-1",
		"data": {"seats": "2"}
	}`))
	rec := post(e, env)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"version":"3.0","screen":"CONFIRM","data":{"price":"40"}}`, string(open(t, aesKey, iv, rec.Body.String())))
}

func TestEndpointErrorAcknowledgment(t *testing.T) {
	key := testKey(t)

	handler := func(ctx context.Context, req *Request) (*Response, error) {
		t.Fatal("handler must not run for client error notifications")
		return nil, nil
	}
	e := NewEndpoint(key, handler, nil, slog.Default())

	env, aesKey, iv := seal(t, &key.PublicKey, []byte(`{
		"version": "3.0",
		"action": "data_exchange",
		"data": {"error": "INVALID_SCREEN", "error_message": "no such screen"}
	}`))
	rec := post(e, env)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"version":"3.0","data":{"acknowledged":true}}`, string(open(t, aesKey, iv, rec.Body.String())))
}

func TestEndpointHandlerError(t *testing.T) {
	key := testKey(t)

	handler := func(ctx context.Context, req *Request) (*Response, error) {
		return nil, errors.New("backend down")
	}
	e := NewEndpoint(key, handler, nil, slog.Default())

	env, _, _ := seal(t, &key.PublicKey, []byte(`{"version":"3.0","action":"data_exchange","data":{}}`))
	rec := post(e, env)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestEndpointOptions(t *testing.T) {
	key := testKey(t)

	// health checks and error notifications reach the handler when passed
	// through
	var actions []string
	handler := func(ctx context.Context, req *Request) (*Response, error) {
		actions = append(actions, req.Action)
		if _, found := req.Data["error"]; found {
			actions = append(actions, "error")
		}
		return &Response{Data: map[string]any{"seen": true}}, nil
	}
	e := NewEndpoint(key, handler, &EndpointOptions{PassHealthChecks: true, PassErrorNotifications: true}, slog.Default())

	env, aesKey, iv := seal(t, &key.PublicKey, []byte(`{"version":"3.0","action":"ping"}`))
	rec := post(e, env)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"version":"3.0","data":{"seen":true}}`, string(open(t, aesKey, iv, rec.Body.String())))

	env, aesKey, iv = seal(t, &key.PublicKey, []byte(`{"version":"3.0","action":"data_exchange","data":{"error":"INVALID_SCREEN"}}`))
	rec = post(e, env)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"version":"3.0","data":{"seen":true}}`, string(open(t, aesKey, iv, rec.Body.String())))
	assert.Equal(t, []string{"ping", "data_exchange", "error"}, actions)

	// acknowledged handler errors answer 200 instead of 500
	failing := func(ctx context.Context, req *Request) (*Response, error) {
		return nil, errors.New("backend down")
	}
	e = NewEndpoint(key, failing, &EndpointOptions{AcknowledgeHandlerErrors: true}, slog.Default())

	env, aesKey, iv = seal(t, &key.PublicKey, []byte(`{"version":"3.0","action":"data_exchange","data":{}}`))
	rec = post(e, env)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"version":"3.0","data":{"acknowledged":true}}`, string(open(t, aesKey, iv, rec.Body.String())))

	// a per endpoint key overrides the one passed in
	override := testKey(t)
	e = NewEndpoint(key, nil, &EndpointOptions{PrivateKey: override}, slog.Default())

	env, _, _ = seal(t, &key.PublicKey, []byte(`{"version":"3.0","action":"ping"}`))
	assert.Equal(t, http.StatusMisdirectedRequest, post(e, env).Code)

	env, aesKey, iv = seal(t, &override.PublicKey, []byte(`{"version":"3.0","action":"ping"}`))
	rec = post(e, env)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"version":"3.0","data":{"status":"active"}}`, string(open(t, aesKey, iv, rec.Body.String())))
}

func TestEndpointCryptoFailures(t *testing.T) {
	key := testKey(t)
	e := NewEndpoint(key, nil, nil, slog.Default())

	// key wrapped for somebody else's public key
	other := testKey(t)
	env, _, _ := seal(t, &other.PublicKey, []byte(`{"version":"3.0","action":"ping"}`))
	assert.Equal(t, http.StatusMisdirectedRequest, post(e, env).Code)

	// tampered ciphertext fails the GCM tag
	env, _, _ = seal(t, &key.PublicKey, []byte(`{"version":"3.0","action":"ping"}`))
	raw, _ := base64.StdEncoding.DecodeString(env.EncryptedFlowData)
	raw[0] ^= 0x01
	env.EncryptedFlowData = base64.StdEncoding.EncodeToString(raw)
	assert.Equal(t, http.StatusMisdirectedRequest, post(e, env).Code)

	// structurally invalid bodies are the caller's fault, not a key problem
	req := httptest.NewRequest("POST", "/flow", strings.NewReader(`{"encrypted_aes_key": "x"}`))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResponseIVIsFlipped(t *testing.T) {
	sess := &session{
		aesKey: bytes.Repeat([]byte{0x11}, 16),
		iv:     bytes.Repeat([]byte{0x22}, 12),
	}

	sealed, err := encryptResponse(sess, []byte(`{"data":{}}`))
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(sealed)
	require.NoError(t, err)

	block, _ := aes.NewCipher(sess.aesKey)
	gcm, _ := cipher.NewGCMWithNonceSize(block, 12)

	// decrypting with the request IV must fail, only the inverse works
	_, err = gcm.Open(nil, sess.iv, raw, nil)
	assert.Error(t, err)

	flipped := bytes.Repeat([]byte{0x22 ^ 0xFF}, 12)
	clear, err := gcm.Open(nil, flipped, raw, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"data":{}}`, string(clear))
}

func TestParsePrivateKey(t *testing.T) {
	key := testKey(t)

	pkcs1 := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	parsed, err := ParsePrivateKey(pkcs1, "")
	require.NoError(t, err)
	assert.True(t, key.Equal(parsed))

	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	pkcs8 := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	parsed, err = ParsePrivateKey(pkcs8, "")
	require.NoError(t, err)
	assert.True(t, key.Equal(parsed))

	encrypted, err := x509.EncryptPEMBlock(rand.Reader, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key), []byte("sesame"), x509.PEMCipherAES256)
	require.NoError(t, err)
	parsed, err = ParsePrivateKey(pem.EncodeToMemory(encrypted), "sesame")
	require.NoError(t, err)
	assert.True(t, key.Equal(parsed))

	_, err = ParsePrivateKey(pem.EncodeToMemory(encrypted), "wrong")
	assert.Error(t, err)

	_, err = ParsePrivateKey([]byte("not pem"), "")
	assert.Error(t, err)
}

func TestDecryptMedia(t *testing.T) {
	plaintext := []byte("a small uploaded document")

	key := bytes.Repeat([]byte{0x01}, 32)
	hmacKey := bytes.Repeat([]byte{0x02}, 32)
	iv := bytes.Repeat([]byte{0x03}, 16)

	// pad and encrypt the way the client does
	pad := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := append(append([]byte{}, plaintext...), bytes.Repeat([]byte{byte(pad)}, pad)...)
	block, _ := aes.NewCipher(key)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	mac := hmac.New(sha256.New, hmacKey)
	mac.Write(iv)
	mac.Write(ciphertext)
	cdnFile := append(ciphertext, mac.Sum(nil)[:10]...)

	sum := sha256.Sum256(plaintext)
	encSum := sha256.Sum256(cdnFile)
	enc := &MediaEncryption{
		Key:           base64.StdEncoding.EncodeToString(key),
		HMACKey:       base64.StdEncoding.EncodeToString(hmacKey),
		IV:            base64.StdEncoding.EncodeToString(iv),
		PlaintextHash: hex.EncodeToString(sum[:]),
		EncryptedHash: hex.EncodeToString(encSum[:]),
	}

	clear, err := DecryptMedia(cdnFile, enc)
	require.NoError(t, err)
	assert.Equal(t, plaintext, clear)

	// flipped bit in the ciphertext fails the hmac before decryption
	tampered := append([]byte{}, cdnFile...)
	tampered[0] ^= 0x01
	_, err = DecryptMedia(tampered, enc)
	assert.EqualError(t, err, "cdn file failed hmac check")

	// wrong encrypted hash is rejected before decryption
	enc.EncryptedHash = hex.EncodeToString(bytes.Repeat([]byte{0xCD}, 32))
	_, err = DecryptMedia(cdnFile, enc)
	assert.EqualError(t, err, "cdn file failed encrypted hash check")
	enc.EncryptedHash = hex.EncodeToString(encSum[:])

	// wrong plaintext hash is rejected after decryption
	enc.PlaintextHash = hex.EncodeToString(bytes.Repeat([]byte{0xAB}, 32))
	_, err = DecryptMedia(cdnFile, enc)
	assert.EqualError(t, err, "decrypted media failed hash check")
}

func TestMediaRefFetch(t *testing.T) {
	plaintext := []byte("uploaded passport scan")

	key := bytes.Repeat([]byte{0x01}, 32)
	hmacKey := bytes.Repeat([]byte{0x02}, 32)
	iv := bytes.Repeat([]byte{0x03}, 16)

	pad := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := append(append([]byte{}, plaintext...), bytes.Repeat([]byte{byte(pad)}, pad)...)
	block, _ := aes.NewCipher(key)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	mac := hmac.New(sha256.New, hmacKey)
	mac.Write(iv)
	mac.Write(ciphertext)
	cdnFile := append(ciphertext, mac.Sum(nil)[:10]...)

	defer httpx.SetRequestor(httpx.DefaultRequestor)
	httpx.SetRequestor(httpx.NewMockRequestor(map[string][]*httpx.MockResponse{
		"https://mmg.whatsapp.net/v/t62/anon_file": {
			httpx.NewMockResponse(200, nil, cdnFile),
		},
	}))

	sum := sha256.Sum256(plaintext)
	ref := &MediaRef{
		ID:       "media55",
		FileName: "passport.jpg",
		CDNURL:   "https://mmg.whatsapp.net/v/t62/anon_file",
		Encryption: &MediaEncryption{
			Key:           base64.StdEncoding.EncodeToString(key),
			HMACKey:       base64.StdEncoding.EncodeToString(hmacKey),
			IV:            base64.StdEncoding.EncodeToString(iv),
			PlaintextHash: hex.EncodeToString(sum[:]),
		},
	}

	clear, err := ref.Fetch(context.Background(), http.DefaultClient)
	require.NoError(t, err)
	assert.Equal(t, plaintext, clear)

	// a ref without encryption metadata can't be decrypted
	_, err = (&MediaRef{CDNURL: "https://mmg.whatsapp.net/other"}).Fetch(context.Background(), http.DefaultClient)
	assert.Error(t, err)
}
