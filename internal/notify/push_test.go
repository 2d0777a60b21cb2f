package notify

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func generateTestVAPIDKeys(t *testing.T) (pub, priv string) {
	t.Helper()
	curve := ecdh.P256()
	key, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate vapid key: %v", err)
	}
	// ecdh private key bytes are the same big-endian scalar ecdsa uses.
	return base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		base64.RawURLEncoding.EncodeToString(key.Bytes())
}

func generateTestSubscription(t *testing.T, endpoint string) (Subscription, *ecdh.PrivateKey) {
	t.Helper()
	curve := ecdh.P256()
	clientKey, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate client key: %v", err)
	}
	authSecret := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, authSecret); err != nil {
		t.Fatalf("generate auth secret: %v", err)
	}
	return Subscription{
		Endpoint: endpoint,
		P256dh:   base64.RawURLEncoding.EncodeToString(clientKey.PublicKey().Bytes()),
		Auth:     base64.RawURLEncoding.EncodeToString(authSecret),
	}, clientKey
}

// decryptAES128GCM mirrors encryptAES128GCM's key derivation to confirm
// a round trip, acting as the client side of the exchange in the test.
func decryptAES128GCM(t *testing.T, body []byte, clientPriv *ecdh.PrivateKey, sub Subscription) []byte {
	t.Helper()
	salt := body[:16]
	keyIDLen := int(body[20])
	ephemeralPubRaw := body[21 : 21+keyIDLen]
	ciphertext := body[21+keyIDLen:]

	curve := ecdh.P256()
	ephemeralPub, err := curve.NewPublicKey(ephemeralPubRaw)
	if err != nil {
		t.Fatalf("parse ephemeral pub: %v", err)
	}
	sharedSecret, err := clientPriv.ECDH(ephemeralPub)
	if err != nil {
		t.Fatalf("ecdh: %v", err)
	}

	authSecret, err := base64.RawURLEncoding.DecodeString(sub.Auth)
	if err != nil {
		t.Fatalf("decode auth secret: %v", err)
	}
	clientPub, err := base64.RawURLEncoding.DecodeString(sub.P256dh)
	if err != nil {
		t.Fatalf("decode client pub: %v", err)
	}

	prkKey := hkdf(authSecret, sharedSecret, []byte("WebPush: info\x00"+string(clientPub)+string(ephemeralPubRaw)), 32)
	cek := hkdf(salt, prkKey, []byte("Content-Encoding: aes128gcm\x00"), 16)
	nonce := hkdf(salt, prkKey, []byte("Content-Encoding: nonce\x00"), 12)

	block, err := aes.NewCipher(cek)
	if err != nil {
		t.Fatalf("aes cipher: %v", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		t.Fatalf("gcm: %v", err)
	}
	padded, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		t.Fatalf("gcm open: %v", err)
	}
	return padded[:len(padded)-1] // strip the 0x02 delimiter octet
}

func TestEncryptAES128GCM_RoundTrips(t *testing.T) {
	sub, clientPriv := generateTestSubscription(t, "https://push.example.com/abc")
	plaintext := []byte(`{"title":"price drop"}`)

	body, err := encryptAES128GCM(sub, plaintext)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	got := decryptAES128GCM(t, body, clientPriv, sub)
	if string(got) != string(plaintext) {
		t.Errorf("round trip = %q, want %q", got, plaintext)
	}
}

func TestVapidJWT_HasThreeSegmentsAndES256Header(t *testing.T) {
	pub, priv := generateTestVAPIDKeys(t)
	sender, err := NewPushSender(pub, priv, "mailto:ops@example.com")
	if err != nil {
		t.Fatalf("NewPushSender failed: %v", err)
	}

	jwt, err := sender.vapidJWT("https://push.example.com")
	if err != nil {
		t.Fatalf("vapidJWT failed: %v", err)
	}

	parts := strings.Split(jwt, ".")
	if len(parts) != 3 {
		t.Fatalf("expected 3 JWT segments, got %d", len(parts))
	}

	headerRaw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	var header map[string]string
	if err := json.Unmarshal(headerRaw, &header); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if header["alg"] != "ES256" {
		t.Errorf("alg = %q, want ES256", header["alg"])
	}
}

func TestAudienceFromEndpoint(t *testing.T) {
	aud, err := audienceFromEndpoint("https://push.example.com/abc/def?x=1")
	if err != nil {
		t.Fatalf("audienceFromEndpoint failed: %v", err)
	}
	if aud != "https://push.example.com" {
		t.Errorf("aud = %q, want %q", aud, "https://push.example.com")
	}
}

func TestAudienceFromEndpoint_RejectsNonHTTPS(t *testing.T) {
	if _, err := audienceFromEndpoint("http://push.example.com/abc"); err == nil {
		t.Error("expected an error for a non-https endpoint")
	}
}

func TestPushSender_Send_GoneMapsToRecipientBlocked(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	pub, priv := generateTestVAPIDKeys(t)
	sender, err := NewPushSender(pub, priv, "mailto:ops@example.com")
	if err != nil {
		t.Fatalf("NewPushSender failed: %v", err)
	}
	sender.client = srv.Client()

	sub, _ := generateTestSubscription(t, srv.URL)
	err = sender.Send(sub, []byte(`{"title":"hi"}`))
	if err != ErrRecipientBlocked {
		t.Errorf("expected ErrRecipientBlocked, got %v", err)
	}
}
