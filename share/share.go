// Package share implements the hmsc: share-string codec used to distribute
// a session's connection details out-of-band: an opaque base64 blob that
// decodes to the triple {server_url, session_id, auth_token}.
package share

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

const prefix = "hmsc:"

// Info is the triple carried inside a share string.
type Info struct {
	ServerURL string `json:"s"`
	SessionID string `json:"i"`
	AuthToken string `json:"p"`
}

// Encode produces the hmsc: share string for info.
func Encode(info Info) (string, error) {
	raw, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("marshal share info: %w", err)
	}
	return prefix + base64.URLEncoding.EncodeToString(raw), nil
}

// Decode parses an hmsc: share string back into its triple.
func Decode(shareString string) (Info, error) {
	if !strings.HasPrefix(shareString, prefix) {
		return Info{}, fmt.Errorf("not a share string: missing %q prefix", prefix)
	}
	encoded := strings.TrimPrefix(shareString, prefix)

	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return Info{}, fmt.Errorf("decode share string: %w", err)
	}

	var info Info
	if err := json.Unmarshal(raw, &info); err != nil {
		return Info{}, fmt.Errorf("unmarshal share info: %w", err)
	}
	if info.ServerURL == "" || info.SessionID == "" || info.AuthToken == "" {
		return Info{}, fmt.Errorf("share string missing one of server_url/session_id/auth_token")
	}
	return info, nil
}
