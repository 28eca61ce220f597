package backup

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/database"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/model"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/store"
)

// mockS3Client implements s3Client for testing.
type mockS3Client struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	getErr  error
	delErr  error
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, _ := io.ReadAll(input.Body)
	m.objects[*input.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &s3NotFound{}
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader(data)),
	}, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if m.delErr != nil {
		return nil, m.delErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

type s3NotFound struct{}

func (e *s3NotFound) Error() string { return "NoSuchKey" }

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

// setupManager builds a manager over a real on-disk sqlite database and a
// mock S3, so Run exercises the checkpoint-copy-encrypt-upload path for real.
func setupManager(t *testing.T) (*Manager, *mockS3Client) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "clueme.db")
	db, err := database.Open(dbPath)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	m := NewManager(Config{
		S3:         S3Config{Bucket: "test", AccessKey: "key", SecretKey: "secret"},
		DBPath:     dbPath,
		Passphrase: "correct horse battery staple",
	}, db, store.NewBackupStore(db), nil, discard())

	mock := newMockS3()
	m.client = mock
	return m, mock
}

func TestManagerDisabledWithoutConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"empty", Config{}},
		{"missing passphrase", Config{S3: S3Config{Bucket: "b", AccessKey: "k", SecretKey: "s"}}},
		{"missing bucket", Config{S3: S3Config{AccessKey: "k", SecretKey: "s"}, Passphrase: "p"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(tt.cfg, nil, nil, nil, discard())
			if m.Enabled() {
				t.Error("expected disabled manager")
			}
			if m.Status().State != StateDisabled {
				t.Errorf("state = %q, want %q", m.Status().State, StateDisabled)
			}
			if _, err := m.Run(context.Background()); err == nil {
				t.Error("expected Run to fail when disabled")
			}
		})
	}
}

func TestManagerEnabledWithFullConfig(t *testing.T) {
	m := NewManager(Config{
		S3:         S3Config{Bucket: "b", AccessKey: "k", SecretKey: "s"},
		Passphrase: "p",
	}, nil, nil, nil, discard())
	if !m.Enabled() {
		t.Error("expected enabled manager")
	}
	if m.Status().State != StateIdle {
		t.Errorf("state = %q, want %q", m.Status().State, StateIdle)
	}
}

func TestRunUploadsEncryptedSnapshot(t *testing.T) {
	m, mock := setupManager(t)
	ctx := context.Background()

	id, err := m.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	record, err := m.store.Get(ctx, id)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if record.Status != model.BackupStatusCompleted {
		t.Errorf("status = %q, want completed", record.Status)
	}
	if record.SizeBytes == 0 {
		t.Error("expected non-zero snapshot size")
	}

	mock.mu.Lock()
	data, ok := mock.objects[record.S3Key]
	mock.mu.Unlock()
	if !ok {
		t.Fatalf("object %s not uploaded", record.S3Key)
	}
	// Ciphertext, not a raw sqlite file
	if bytes.HasPrefix(data, []byte("SQLite format 3")) {
		t.Error("uploaded object is not encrypted")
	}

	if st := m.Status(); st.State != StateIdle || st.LastBackup == nil {
		t.Errorf("status after run = %+v, want idle with last backup set", st)
	}
}

func TestRunRecordsUploadFailure(t *testing.T) {
	m, mock := setupManager(t)
	mock.putErr = &s3NotFound{}
	ctx := context.Background()

	if _, err := m.Run(ctx); err == nil {
		t.Fatal("expected upload error")
	}
	if m.Status().State != StateError {
		t.Errorf("state = %q, want %q", m.Status().State, StateError)
	}

	backups, err := m.store.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(backups) != 1 || backups[0].Status != model.BackupStatusFailed {
		t.Fatalf("backups = %+v, want one failed record", backups)
	}
}

func TestDownloadRoundTrip(t *testing.T) {
	m, _ := setupManager(t)
	ctx := context.Background()

	id, err := m.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	body, size, err := m.Download(ctx, id)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if int64(len(data)) != size {
		t.Errorf("body length %d != recorded size %d", len(data), size)
	}
}

func TestDownloadUnknownBackup(t *testing.T) {
	m, _ := setupManager(t)

	if _, _, err := m.Download(context.Background(), "no-such-id"); err == nil {
		t.Fatal("expected error for unknown backup id")
	}
}

func TestCleanupDeletesRemoteObjects(t *testing.T) {
	m, mock := setupManager(t)
	m.cfg.RetentionDays = 0 // everything is past retention
	ctx := context.Background()

	if _, err := m.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if err := m.Cleanup(ctx); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	mock.mu.Lock()
	remaining := len(mock.objects)
	mock.mu.Unlock()
	if remaining != 0 {
		t.Errorf("%d objects left in s3, want 0", remaining)
	}
	backups, err := m.store.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(backups) != 0 {
		t.Errorf("%d records left, want 0", len(backups))
	}
}

func TestStatusCallback(t *testing.T) {
	var received []Status
	var mu sync.Mutex

	m, _ := setupManager(t)
	m.callback = func(s Status) {
		mu.Lock()
		received = append(received, s)
		mu.Unlock()
	}

	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Fatalf("received %d callbacks, want 2 (running, idle)", len(received))
	}
	if received[0].State != StateRunning || !received[0].InProgress {
		t.Errorf("first callback = %+v, want running/in-progress", received[0])
	}
	if received[1].State != StateIdle {
		t.Errorf("second callback = %+v, want idle", received[1])
	}
}
