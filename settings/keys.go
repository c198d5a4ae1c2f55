// Package settings stores per-user lokitd settings, currently the API keys
// used by translation providers.
//
// Keys live in the XDG data directory:
//
//	$XDG_DATA_HOME/lokitd/keys.json  (default: ~/.local/share/lokitd/)
//
// The file is written with 0600 permissions. API key lookup order is
// LOKITD_API_KEY, then the provider's configured environment variable, then
// this store.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	dataDirName = "lokitd"
	fileName    = "keys.json"

	// EnvAPIKey overrides every stored or configured key.
	EnvAPIKey = "LOKITD_API_KEY"
)

// Key is the stored credential for one provider.
type Key struct {
	Key string `json:"key"`
	// BaseURL overrides the provider endpoint (custom-openai).
	BaseURL string `json:"baseUrl,omitempty"`
}

// Keys maps provider ids to their stored credentials.
type Keys map[string]*Key

// DataDir returns the lokitd data directory, honouring $XDG_DATA_HOME.
func DataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, dataDirName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", dataDirName), nil
}

// FilePath returns the keys file path, or "" if it cannot be determined.
func FilePath() string {
	dir, err := DataDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, fileName)
}

// Load reads the key store. A missing or unreadable file yields an empty store.
func Load() Keys {
	path := FilePath()
	if path == "" {
		return make(Keys)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return make(Keys)
	}
	var keys Keys
	if err := json.Unmarshal(data, &keys); err != nil || keys == nil {
		return make(Keys)
	}
	return keys
}

// Save writes the key store.
func Save(keys Keys) error {
	path := FilePath()
	if path == "" {
		return fmt.Errorf("cannot determine data directory")
	}
	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling keys: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing keys file: %w", err)
	}
	return nil
}

// SetAPIKey stores key (and an optional base URL) for a provider.
func SetAPIKey(providerID, key, baseURL string) error {
	keys := Load()
	keys[providerID] = &Key{Key: key, BaseURL: baseURL}
	return Save(keys)
}

// GetAPIKey returns the stored key for a provider, or "".
func GetAPIKey(providerID string) string {
	if k := Load()[providerID]; k != nil {
		return k.Key
	}
	return ""
}

// GetBaseURL returns the stored base URL for a provider, or "".
func GetBaseURL(providerID string) string {
	if k := Load()[providerID]; k != nil {
		return k.BaseURL
	}
	return ""
}

// Remove deletes the stored key for a provider. Removing an absent key is a no-op.
func Remove(providerID string) error {
	keys := Load()
	if _, ok := keys[providerID]; !ok {
		return nil
	}
	delete(keys, providerID)
	return Save(keys)
}

// ResolveAPIKey returns the key to use for a provider. envName is the
// provider's configured variable and may be empty.
func ResolveAPIKey(providerID, envName string) string {
	if v := strings.TrimSpace(os.Getenv(EnvAPIKey)); v != "" {
		return v
	}
	if envName != "" {
		if v := strings.TrimSpace(os.Getenv(envName)); v != "" {
			return v
		}
	}
	return GetAPIKey(providerID)
}

// MaskKey returns a display form of key.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
