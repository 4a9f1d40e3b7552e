package auth

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/dealwatch/harvester/config"
	"github.com/dealwatch/harvester/models"
)

type fakeStore struct {
	blob    []byte
	has     bool
	loadErr error

	reauthCalls int
}

func (s *fakeStore) LoadEncryptedSession(_ context.Context, _, _ string) ([]byte, bool, error) {
	return s.blob, s.has, s.loadErr
}

func (s *fakeStore) MarkNeedsReauth(_ context.Context, _, _, _ string) (bool, error) {
	s.reauthCalls++
	return true, nil
}

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func sealState(t *testing.T, state storageState) []byte {
	t.Helper()
	key, _ := hex.DecodeString(testKey)
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		t.Fatalf("gcm: %v", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		t.Fatalf("nonce: %v", err)
	}
	plain, _ := json.Marshal(state)
	return append(nonce, gcm.Seal(nil, nonce, plain, nil)...)
}

// A monitor that requires cookies must be refused before any browser
// resource is used when no session exists. The resolver here has a nil
// pool: reaching for a slot would panic, so passing proves the fast path.
func TestResolveRequiredWithoutSessionFailsFast(t *testing.T) {
	r := NewResolver(&fakeStore{has: false}, nil, config.SessionConfig{EncryptionKey: testKey})

	_, err := r.Resolve(context.Background(), Request{
		UserID: "u1",
		Site:   "vinted",
		Mode:   models.AuthCookiesRequired,
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if code := models.CodeOf(err); code != models.ErrCodeSessionRequired {
		t.Fatalf("code = %s, want %s", code, models.ErrCodeSessionRequired)
	}
}

func TestResolveRequiredCorruptSessionPropagates(t *testing.T) {
	store := &fakeStore{has: true, blob: []byte("not a sealed blob")}
	r := NewResolver(store, nil, config.SessionConfig{EncryptionKey: testKey})

	_, err := r.Resolve(context.Background(), Request{
		UserID: "u1",
		Site:   "vinted",
		Mode:   models.AuthCookiesRequired,
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if code := models.CodeOf(err); code != models.ErrCodeNeedsReauth {
		t.Fatalf("code = %s, want %s", code, models.ErrCodeNeedsReauth)
	}
}

func TestDecryptStorageStateRoundTrip(t *testing.T) {
	want := storageState{
		Cookies: []storedCookie{
			{Name: "_session", Value: "abc123", Domain: ".vinted.fr", Path: "/", Secure: true, SameSite: "Lax"},
			{Name: "locale", Value: "fr", Domain: ".vinted.fr", Path: "/"},
		},
		Origins: []storedOrigin{
			{Origin: "https://www.vinted.fr", LocalStorage: map[string]string{"anon_id": "xyz"}},
		},
	}

	got, err := decryptStorageState(sealState(t, want), testKey)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if len(got.Cookies) != 2 {
		t.Fatalf("cookies = %d, want 2", len(got.Cookies))
	}
	if got.Cookies[0].Name != "_session" || got.Cookies[0].Value != "abc123" {
		t.Errorf("cookie[0] = %+v", got.Cookies[0])
	}
	if len(got.Origins) != 1 || got.Origins[0].LocalStorage["anon_id"] != "xyz" {
		t.Errorf("origins = %+v", got.Origins)
	}
}

func TestDecryptStorageStateRejectsBadKey(t *testing.T) {
	blob := sealState(t, storageState{})
	for _, key := range []string{"", "deadbeef", "zz" + testKey[2:]} {
		if _, err := decryptStorageState(blob, key); err == nil {
			t.Errorf("key %q: expected error", key)
		}
	}
}

func TestDecryptStorageStateRejectsTruncatedBlob(t *testing.T) {
	if _, err := decryptStorageState([]byte{0x01, 0x02}, testKey); err == nil {
		t.Fatal("expected error for truncated blob")
	}
}
