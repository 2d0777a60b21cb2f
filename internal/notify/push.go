package notify

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"
)

// Subscription is a browser's Web Push subscription, as registered by
// the client and stored on the user.
type Subscription struct {
	Endpoint string
	P256dh   string // base64url-encoded client public key
	Auth     string // base64url-encoded client auth secret
}

// PushSender delivers messages via Web Push (RFC 8030) with aes128gcm
// payload encryption (RFC 8291) and VAPID application-server auth
// (RFC 8292). No Web Push library appears in the corpus, so this one
// component is stdlib-only: crypto/ecdh, crypto/ecdsa, crypto/aes,
// net/http — justified in the grounding ledger.
type PushSender struct {
	privateKey *ecdsa.PrivateKey
	publicRaw  []byte // uncompressed P-256 point, for the VAPID public key
	subject    string // mailto: or https: URI identifying the sender
	client     *http.Client
}

// NewPushSender parses a base64url VAPID key pair (as typically
// generated and stored in config) plus the contact subject.
func NewPushSender(publicKeyB64, privateKeyB64, subject string) (*PushSender, error) {
	privRaw, err := base64.RawURLEncoding.DecodeString(privateKeyB64)
	if err != nil {
		return nil, fmt.Errorf("push: decode private key: %w", err)
	}
	curve := elliptic.P256()
	priv := new(ecdsa.PrivateKey)
	priv.Curve = curve
	priv.D = new(big.Int).SetBytes(privRaw)
	priv.PublicKey.X, priv.PublicKey.Y = curve.ScalarBaseMult(privRaw)

	pubRaw, err := base64.RawURLEncoding.DecodeString(publicKeyB64)
	if err != nil {
		return nil, fmt.Errorf("push: decode public key: %w", err)
	}

	return &PushSender{
		privateKey: priv,
		publicRaw:  pubRaw,
		subject:    subject,
		client:     &http.Client{Timeout: 8 * time.Second},
	}, nil
}

// Send encrypts payload for sub and POSTs it to the subscription's push
// endpoint. A 404/410 ("subscription gone") maps to ErrRecipientBlocked.
func (p *PushSender) Send(sub Subscription, payload []byte) error {
	body, err := encryptAES128GCM(sub, payload)
	if err != nil {
		return fmt.Errorf("push: encrypt payload: %w", err)
	}

	aud, err := audienceFromEndpoint(sub.Endpoint)
	if err != nil {
		return err
	}
	jwt, err := p.vapidJWT(aud)
	if err != nil {
		return fmt.Errorf("push: build vapid jwt: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, sub.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-Encoding", "aes128gcm")
	req.Header.Set("TTL", "86400")
	req.Header.Set("Authorization", "vapid t="+jwt+", k="+base64.RawURLEncoding.EncodeToString(p.publicRaw))

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusGone:
		return ErrRecipientBlocked
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}

// vapidJWT builds an ES256-signed JWT per RFC 8292, valid for 12 hours.
func (p *PushSender) vapidJWT(audience string) (string, error) {
	header := map[string]string{"typ": "JWT", "alg": "ES256"}
	claims := map[string]any{
		"aud": audience,
		"exp": time.Now().Add(12 * time.Hour).Unix(),
		"sub": p.subject,
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", err
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) + "." + base64.RawURLEncoding.EncodeToString(claimsJSON)

	digest := sha256.Sum256([]byte(signingInput))
	r, s, err := ecdsa.Sign(rand.Reader, p.privateKey, digest[:])
	if err != nil {
		return "", err
	}

	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])

	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

func audienceFromEndpoint(endpoint string) (string, error) {
	if !strings.HasPrefix(endpoint, "https://") || len(endpoint) == len("https://") {
		return "", errors.New("push: malformed subscription endpoint")
	}
	if idx := strings.Index(endpoint[len("https://"):], "/"); idx >= 0 {
		return endpoint[:len("https://")+idx], nil
	}
	return endpoint, nil
}

// encryptAES128GCM implements the aes128gcm content encoding from
// RFC 8291: an ephemeral ECDH key agreement with the subscription's
// P-256 public key, HKDF-derived content-encryption key and nonce, and
// a single AEAD record (payloads here are always well under the 4096
// byte record size limit).
func encryptAES128GCM(sub Subscription, plaintext []byte) ([]byte, error) {
	clientPub, err := base64.RawURLEncoding.DecodeString(sub.P256dh)
	if err != nil {
		return nil, fmt.Errorf("decode client public key: %w", err)
	}
	authSecret, err := base64.RawURLEncoding.DecodeString(sub.Auth)
	if err != nil {
		return nil, fmt.Errorf("decode client auth secret: %w", err)
	}

	curve := ecdh.P256()
	clientECDHPub, err := curve.NewPublicKey(clientPub)
	if err != nil {
		return nil, fmt.Errorf("parse client public key: %w", err)
	}

	ephemeral, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	sharedSecret, err := ephemeral.ECDH(clientECDHPub)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}

	ephemeralPub := ephemeral.PublicKey().Bytes()

	prkKey := hkdf(authSecret, sharedSecret, []byte("WebPush: info\x00"+string(clientPub)+string(ephemeralPub)), 32)
	cek := hkdf(salt, prkKey, []byte("Content-Encoding: aes128gcm\x00"), 16)
	nonce := hkdf(salt, prkKey, []byte("Content-Encoding: nonce\x00"), 12)

	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	padded := append(append([]byte{}, plaintext...), 0x02) // delimiter octet, no further padding
	ciphertext := gcm.Seal(nil, nonce, padded, nil)

	header := new(bytes.Buffer)
	header.Write(salt)
	recordSize := make([]byte, 4)
	binary.BigEndian.PutUint32(recordSize, uint32(4096))
	header.Write(recordSize)
	header.WriteByte(byte(len(ephemeralPub)))
	header.Write(ephemeralPub)

	return append(header.Bytes(), ciphertext...), nil
}

// hkdf implements RFC 5869 HKDF-SHA256 extract-then-expand, returning
// length bytes of output keying material.
func hkdf(salt, ikm, info []byte, length int) []byte {
	extractor := hmac.New(sha256.New, salt)
	extractor.Write(ikm)
	prk := extractor.Sum(nil)

	var t []byte
	okm := make([]byte, 0, length)
	for i := byte(1); len(okm) < length; i++ {
		expander := hmac.New(sha256.New, prk)
		expander.Write(t)
		expander.Write(info)
		expander.Write([]byte{i})
		t = expander.Sum(nil)
		okm = append(okm, t...)
	}
	return okm[:length]
}
