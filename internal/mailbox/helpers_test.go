package mailbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shineum/maildeck/internal/email"
	"github.com/shineum/maildeck/internal/store"
	"github.com/shineum/maildeck/internal/store/memory"
)

var errInjected = errors.New("injected failure")

// faultyStore wraps a memory store and fails selected operations.
type faultyStore struct {
	*memory.Store

	listErr   error
	getErr    map[string]error
	copyErr   error
	putErr    error
	deleteErr error
	keyErr    map[string]error // per-key DeleteBatch failures
	getDelay  func(key string) time.Duration
}

func newFaultyStore() *faultyStore {
	return &faultyStore{Store: memory.New()}
}

func (f *faultyStore) List(ctx context.Context, prefix, delimiter string) ([]store.Object, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.Store.List(ctx, prefix, delimiter)
}

func (f *faultyStore) Get(ctx context.Context, key string) ([]byte, error) {
	if f.getDelay != nil {
		time.Sleep(f.getDelay(key))
	}
	if err := f.getErr[key]; err != nil {
		return nil, err
	}
	return f.Store.Get(ctx, key)
}

func (f *faultyStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if f.putErr != nil {
		return f.putErr
	}
	return f.Store.Put(ctx, key, data, contentType)
}

func (f *faultyStore) Copy(ctx context.Context, src, dst string) error {
	if f.copyErr != nil {
		return f.copyErr
	}
	return f.Store.Copy(ctx, src, dst)
}

func (f *faultyStore) DeleteBatch(ctx context.Context, keys []string) ([]store.DeleteResult, error) {
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}

	var keep []string
	var results []store.DeleteResult
	for _, key := range keys {
		if err := f.keyErr[key]; err != nil {
			results = append(results, store.DeleteResult{Key: key, Err: err})
			continue
		}
		keep = append(keep, key)
	}
	deleted, err := f.Store.DeleteBatch(ctx, keep)
	if err != nil {
		return nil, err
	}
	return append(results, deleted...), nil
}

// mockProvider implements provider.Provider for testing.
type mockProvider struct {
	mu      sync.Mutex
	id      string
	err     error
	calls   int
	lastMsg *email.Email
	lastRaw []byte
}

func (m *mockProvider) Send(_ context.Context, msg *email.Email, raw []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastMsg = msg
	m.lastRaw = raw
	if m.err != nil {
		return "", m.err
	}
	if m.id != "" {
		return m.id, nil
	}
	return fmt.Sprintf("provider-id-%d", m.calls), nil
}

func (m *mockProvider) Name() string { return "mock" }

// allowList implements SenderPolicy for testing.
type allowList struct {
	addrs map[string]bool
	err   error
}

func allow(addrs ...string) *allowList {
	a := &allowList{addrs: make(map[string]bool)}
	for _, addr := range addrs {
		a.addrs[strings.ToLower(addr)] = true
	}
	return a
}

func (a *allowList) Allowed(_ context.Context, addr string) (bool, error) {
	if a.err != nil {
		return false, a.err
	}
	return a.addrs[strings.ToLower(addr)], nil
}

func rawMessage(subject, body string) []byte {
	return []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: " + subject,
		"Date: Mon, 01 Jan 2024 10:00:00 +0000",
		"",
		body,
	}, "\r\n"))
}

func rawWithAttachments(names ...string) []byte {
	lines := []string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: Files",
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="b1"`,
		"",
		"--b1",
		"Content-Type: text/plain",
		"",
		"see attached",
	}
	for _, name := range names {
		lines = append(lines,
			"--b1",
			"Content-Type: application/octet-stream",
			fmt.Sprintf(`Content-Disposition: attachment; filename="%s"`, name),
			"",
			"content of "+name,
		)
	}
	lines = append(lines, "--b1--", "")
	return []byte(strings.Join(lines, "\r\n"))
}

var baseTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
