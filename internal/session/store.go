package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.uber.org/zap"

	_ "github.com/mattn/go-sqlite3"
)

// Store owns the persisted WhatsApp credentials in one session
// directory. Credential updates are written by whatsmeow itself
// through the sqlstore container; Store covers load/create and clear.
type Store struct {
	dir    string
	logger *zap.Logger
}

// NewStore creates a credential store rooted at dir (normally
// Dir(sessionName)), creating it if needed.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Path returns the credential database path.
func (s *Store) Path() string {
	return filepath.Join(s.dir, "credentials.db")
}

// Open loads or creates the credential container and returns its first
// device record. A fresh container yields a device with no stored ID,
// which signals that QR pairing is required.
func (s *Store) Open(ctx context.Context) (*sqlstore.Container, *wastore.Device, error) {
	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", s.Path()),
		nil,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("open credential store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return nil, nil, fmt.Errorf("get device: %w", err)
	}
	return container, device, nil
}

// Clear removes the persisted credentials. Best-effort: filesystem
// errors are logged and swallowed so a logout always completes.
func (s *Store) Clear() {
	path := s.Path()
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove credential file",
				zap.String("path", p), zap.Error(err))
		}
	}
}
