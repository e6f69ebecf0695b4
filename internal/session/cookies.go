package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

// cookieFile is the on-disk shape: the save instant plus the cookies in
// CDP parameter form, ready to hand back to SetCookies.
type cookieFile struct {
	SavedAt time.Time                   `json:"saved_at"`
	Cookies []*proto.NetworkCookieParam `json:"cookies"`
}

// CookieStore persists session cookies between runs so a fresh process
// can skip the login flow while they remain valid.
type CookieStore struct {
	path string
	ttl  time.Duration
}

func NewCookieStore(path string, ttl time.Duration) *CookieStore {
	if path == "" {
		path = ".cookies.json"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CookieStore{path: path, ttl: ttl}
}

// Load returns the stored cookies when the file exists, parses, and is
// younger than the TTL. Any other condition reports no cookies.
func (s *CookieStore) Load() ([]*proto.NetworkCookieParam, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, false
	}
	var f cookieFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, false
	}
	if time.Since(f.SavedAt) > s.ttl || len(f.Cookies) == 0 {
		return nil, false
	}
	return f.Cookies, true
}

// Save writes the cookies atomically: temp file in the same directory,
// then rename over the target.
func (s *CookieStore) Save(cookies []*proto.NetworkCookie) error {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: c.SameSite,
			Expires:  c.Expires,
		})
	}

	data, err := json.MarshalIndent(cookieFile{SavedAt: time.Now(), Cookies: params}, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".cookies-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.path)
}

// Clear removes the stored cookies, for a session known to be dead.
func (s *CookieStore) Clear() {
	os.Remove(s.path)
}
