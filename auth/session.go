package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// storageState is the serialized snapshot of a logged-in session: cookies
// plus per-origin local storage, captured at login time and replayed here
// to restore the session without interactive login.
type storageState struct {
	Cookies []storedCookie `json:"cookies"`
	Origins []storedOrigin `json:"origins,omitempty"`
}

type storedCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

type storedOrigin struct {
	Origin       string            `json:"origin"`
	LocalStorage map[string]string `json:"localStorage,omitempty"`
}

// decryptStorageState opens an AES-256-GCM sealed blob (nonce prepended)
// and decodes the storage state inside.
func decryptStorageState(blob []byte, hexKey string) (*storageState, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil || len(key) != 32 {
		return nil, fmt.Errorf("session key must be 32 hex-encoded bytes")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}

	if len(blob) < gcm.NonceSize() {
		return nil, fmt.Errorf("session blob too short")
	}
	nonce, sealed := blob[:gcm.NonceSize()], blob[gcm.NonceSize():]

	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt session: %w", err)
	}

	var state storageState
	if err := json.Unmarshal(plain, &state); err != nil {
		return nil, fmt.Errorf("decode storage state: %w", err)
	}
	return &state, nil
}

// applyStorageState replays cookies (and local storage, best-effort) onto
// a fresh page so subsequent navigations run logged in.
func applyStorageState(page *rod.Page, state *storageState) error {
	if len(state.Cookies) > 0 {
		cookies := make([]*proto.NetworkCookieParam, 0, len(state.Cookies))
		for _, c := range state.Cookies {
			param := &proto.NetworkCookieParam{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				HTTPOnly: c.HTTPOnly,
				Secure:   c.Secure,
			}
			if c.Expires > 0 {
				param.Expires = proto.TimeSinceEpoch(c.Expires)
			}
			switch c.SameSite {
			case "Strict":
				param.SameSite = proto.NetworkCookieSameSiteStrict
			case "Lax":
				param.SameSite = proto.NetworkCookieSameSiteLax
			case "None":
				param.SameSite = proto.NetworkCookieSameSiteNone
			}
			cookies = append(cookies, param)
		}
		if err := page.SetCookies(cookies); err != nil {
			return fmt.Errorf("apply cookies: %w", err)
		}
	}

	// Local storage needs a document on the right origin; replay is
	// deferred until after navigation by injecting on new documents.
	for _, origin := range state.Origins {
		if len(origin.LocalStorage) == 0 {
			continue
		}
		payload, err := json.Marshal(origin.LocalStorage)
		if err != nil {
			continue
		}
		js := fmt.Sprintf(`() => {
			const entries = %s;
			for (const [k, v] of Object.entries(entries)) {
				try { localStorage.setItem(k, v); } catch (e) {}
			}
		}`, string(payload))
		if _, err := page.EvalOnNewDocument(js); err != nil {
			return fmt.Errorf("apply local storage: %w", err)
		}
	}
	return nil
}
