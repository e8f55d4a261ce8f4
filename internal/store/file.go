package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"dodns/internal/model"
)

type fileState struct {
	APIToken    string `yaml:"api_token"`
	DNSZone     string `yaml:"dns_zone"`
	AccessToken string `yaml:"access_token"`
}

// FileStore keeps state in a YAML file and the audit log in a JSON-lines
// file next to it. Several processes may share the files: every operation
// first picks up changes another process wrote.
type FileStore struct {
	mu        sync.Mutex
	path      string
	auditPath string
	state     fileState
	// stateInfo describes the file state was last read from or written to.
	stateInfo os.FileInfo
	auditSeq  int64
	auditSize int64
}

func OpenFile(path string) (*FileStore, error) {
	fs := &FileStore{path: path, auditPath: path + ".audit.jsonl", auditSize: -1}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.reloadLocked(); err != nil {
		return nil, err
	}
	if err := fs.syncAuditLocked(); err != nil {
		return nil, err
	}
	return fs, nil
}

// reloadLocked rereads the state file if it was replaced since the last
// read or write. The file is always replaced by rename, so a new inode,
// mtime or size means new content.
func (fs *FileStore) reloadLocked() error {
	info, err := os.Stat(fs.path)
	if errors.Is(err, os.ErrNotExist) {
		fs.state = fileState{}
		fs.stateInfo = nil
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading state file: %w", err)
	}
	if prev := fs.stateInfo; prev != nil && os.SameFile(prev, info) &&
		prev.ModTime().Equal(info.ModTime()) && prev.Size() == info.Size() {
		return nil
	}

	data, err := os.ReadFile(fs.path)
	if err != nil {
		return fmt.Errorf("reading state file: %w", err)
	}
	var state fileState
	if err := yaml.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("parsing state file %s: %w", fs.path, err)
	}
	fs.state = state
	fs.stateInfo = info
	return nil
}

// syncAuditLocked re-reads the last audit id when the log grew behind our
// back.
func (fs *FileStore) syncAuditLocked() error {
	info, err := os.Stat(fs.auditPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		fs.auditSeq, fs.auditSize = 0, 0
		return nil
	case err != nil:
		return fmt.Errorf("opening audit log: %w", err)
	case info.Size() == fs.auditSize:
		return nil
	}

	entries, err := fs.readAudit()
	if err != nil {
		return err
	}
	fs.auditSeq = 0
	if n := len(entries); n > 0 {
		fs.auditSeq = entries[n-1].ID
	}
	fs.auditSize = info.Size()
	return nil
}

func (fs *FileStore) LoadConfiguration(ctx context.Context) (model.Configuration, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.reloadLocked(); err != nil {
		return model.Configuration{}, err
	}
	return model.Configuration{APIToken: fs.state.APIToken, DNSZone: fs.state.DNSZone}, nil
}

func (fs *FileStore) SaveConfiguration(ctx context.Context, cfg model.Configuration) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.reloadLocked(); err != nil {
		return err
	}

	next := fs.state
	next.APIToken = cfg.APIToken
	next.DNSZone = cfg.DNSZone
	return fs.write(next)
}

func (fs *FileStore) APIToken(ctx context.Context) (string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.reloadLocked(); err != nil {
		return "", err
	}
	return fs.state.AccessToken, nil
}

func (fs *FileStore) SetAPIToken(ctx context.Context, token string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.reloadLocked(); err != nil {
		return err
	}

	next := fs.state
	next.AccessToken = token
	return fs.write(next)
}

// write replaces the state file atomically. Must be called with mu held.
func (fs *FileStore) write(state fileState) error {
	data, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	dir := filepath.Dir(fs.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(fs.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp state file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fs.path); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}

	fs.state = state
	// A failed stat forces a reload on the next call.
	fs.stateInfo, _ = os.Stat(fs.path)
	return nil
}

func (fs *FileStore) LogAudit(ctx context.Context, entry model.AuditEntry) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.syncAuditLocked(); err != nil {
		return err
	}

	entry.ID = fs.auditSeq + 1
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding audit entry: %w", err)
	}

	f, err := os.OpenFile(fs.auditPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()

	n, err := f.Write(append(line, '\n'))
	if err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	fs.auditSeq = entry.ID
	fs.auditSize += int64(n)
	return nil
}

func (fs *FileStore) ListAudit(ctx context.Context, limit, offset int) ([]model.AuditEntry, int, error) {
	fs.mu.Lock()
	entries, err := fs.readAudit()
	fs.mu.Unlock()
	if err != nil {
		return nil, 0, err
	}

	total := len(entries)
	if offset < 0 || offset >= total || limit <= 0 {
		return nil, total, nil
	}
	var page []model.AuditEntry
	for i := total - 1 - offset; i >= 0 && len(page) < limit; i-- {
		page = append(page, entries[i])
	}
	return page, total, nil
}

func (fs *FileStore) readAudit() ([]model.AuditEntry, error) {
	f, err := os.Open(fs.auditPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()

	var entries []model.AuditEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e model.AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("parsing audit log: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}

func (fs *FileStore) Close() error {
	return nil
}

var _ Store = (*FileStore)(nil)
