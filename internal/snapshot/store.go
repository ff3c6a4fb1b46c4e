package snapshot

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/substratehq/playground/internal/infrastructure/logging"
)

// Version is the snapshot payload version.
const Version = 1

// keyPrefix namespaces snapshot keys in the shared byte store.
const keyPrefix = "playground-"

// Snapshot captures one template's session state: the workspace files plus
// the editor surface state needed to restore the session.
type Snapshot struct {
	Version    int               `json:"version"`
	Timestamp  int64             `json:"timestamp"`
	Files      map[string]string `json:"files"`
	OpenTabs   []string          `json:"openTabs"`
	ActiveFile string            `json:"activeFile"`
	TemplateID string            `json:"templateId"`
}

// New creates a snapshot for templateID stamped with the current time.
func New(templateID string, files map[string]string, openTabs []string, activeFile string) *Snapshot {
	return &Snapshot{
		Version:    Version,
		Timestamp:  time.Now().UnixMilli(),
		Files:      files,
		OpenTabs:   openTabs,
		ActiveFile: activeFile,
		TemplateID: templateID,
	}
}

// Store persists snapshots to a byte store, one snapshot per template id.
// Payloads are gzip-compressed JSON.
type Store struct {
	kv     KV
	logger *logging.Logger
}

// NewStore creates a snapshot store over kv.
func NewStore(kv KV, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Store{kv: kv, logger: logger.Named("snapshot")}
}

// Save serializes the snapshot under the template's key.
func (s *Store) Save(templateID string, snap *Snapshot) error {
	data, err := encode(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot for %s: %w", templateID, err)
	}
	if err := s.kv.Set(keyPrefix+templateID, data); err != nil {
		return fmt.Errorf("failed to persist snapshot for %s: %w", templateID, err)
	}
	s.logger.Debug("snapshot saved",
		zap.String("template", templateID),
		zap.Int("files", len(snap.Files)),
	)
	return nil
}

// Load returns the snapshot for templateID, or nil when none is stored. A
// malformed payload also loads as nil: a corrupt snapshot must never block
// initialization.
func (s *Store) Load(templateID string) (*Snapshot, error) {
	data, ok, err := s.kv.Get(keyPrefix + templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot for %s: %w", templateID, err)
	}
	if !ok {
		return nil, nil
	}

	snap, err := decode(data)
	if err != nil {
		s.logger.Warn("discarding malformed snapshot",
			zap.String("template", templateID), zap.Error(err))
		return nil, nil
	}
	return snap, nil
}

// Remove deletes the stored snapshot for templateID.
func (s *Store) Remove(templateID string) error {
	return s.kv.Remove(keyPrefix + templateID)
}

func encode(snap *Snapshot) ([]byte, error) {
	raw, err := sonic.Marshal(snap)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte) (*Snapshot, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	if err := sonic.Unmarshal(raw, &snap); err != nil {
		return nil, err
	}
	if snap.Version != Version {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	if snap.TemplateID == "" {
		return nil, fmt.Errorf("snapshot has empty template id")
	}
	return &snap, nil
}
