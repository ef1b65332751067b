package mqtt

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const identityFile = "mqtt_client_id"

// ClientID returns the broker client identity for this installation,
// generating and persisting a UUIDv7 under dataDir on first use. A
// stable identity lets the broker resume the session across restarts
// instead of treating every start as a fresh client.
func ClientID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, identityFile)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
		// Empty file, fall through and regenerate.
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("read client identity: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate client identity: %w", err)
	}
	if err := os.WriteFile(path, []byte(id.String()+"\n"), 0600); err != nil {
		return "", fmt.Errorf("persist client identity: %w", err)
	}
	return id.String(), nil
}
