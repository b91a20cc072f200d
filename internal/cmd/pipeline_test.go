package cmd

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/factline/cli/pkg/api"
	"github.com/factline/cli/pkg/config"
	"github.com/factline/cli/pkg/pending"
	"github.com/factline/cli/pkg/stream"
)

func initConfig(t *testing.T) {
	t.Helper()
	if err := config.Init(filepath.Join(t.TempDir(), "config.toml")); err != nil {
		t.Fatalf("Failed to initialize config: %v", err)
	}
}

// TestUploadConfigDefaults validates the limits built from default configuration
func TestUploadConfigDefaults(t *testing.T) {
	initConfig(t)
	authToken = "tok"
	t.Cleanup(func() { authToken = "" })

	cfg := uploadConfig()

	if cfg.MaxImageBytes != 20*1024*1024 {
		t.Errorf("Expected 20 MB image ceiling, got %d", cfg.MaxImageBytes)
	}
	if cfg.MaxVideoBytes != 100*1024*1024 {
		t.Errorf("Expected 100 MB video ceiling, got %d", cfg.MaxVideoBytes)
	}
	if cfg.VideoPoll.Timeout != 3*time.Minute {
		t.Errorf("Expected 3m video timeout, got %s", cfg.VideoPoll.Timeout)
	}
	if cfg.ImagePoll.Timeout != 0 {
		t.Errorf("Images have no poll timeout, got %s", cfg.ImagePoll.Timeout)
	}
	if cfg.ImagePoll.Interval != 2*time.Second || cfg.ImagePoll.MaxConsecutiveErrors != 5 {
		t.Errorf("unexpected image poll config %+v", cfg.ImagePoll)
	}
	if cfg.Compression.Quality != 85 {
		t.Errorf("Expected quality 85, got %d", cfg.Compression.Quality)
	}
	if cfg.Credential != "tok" {
		t.Errorf("Expected stream credential from login, got %q", cfg.Credential)
	}
}

// TestUploadConfigOverrides validates that configured values flow into components
func TestUploadConfigOverrides(t *testing.T) {
	initConfig(t)
	config.Set("upload.max_image_mb", 5)
	config.Set("upload.image_extensions", "JPG, png")
	config.Set("stream.reconnect_step_ms", 500)
	config.Set("stream.max_reconnect_attempts", 3)

	cfg := uploadConfig()
	if cfg.MaxImageBytes != 5*1024*1024 {
		t.Errorf("Expected 5 MB, got %d", cfg.MaxImageBytes)
	}
	if want := []string{".jpg", ".png"}; !reflect.DeepEqual(cfg.ImageExtensions, want) {
		t.Errorf("Expected %v, got %v", want, cfg.ImageExtensions)
	}

	sc := streamConfig()
	if sc.ReconnectStep != 500*time.Millisecond || sc.MaxReconnectAttempts != 3 {
		t.Errorf("unexpected stream config %+v", sc)
	}
}

// TestNormalizeExtensions accepts loose extension lists
func TestNormalizeExtensions(t *testing.T) {
	got := normalizeExtensions([]string{"JPG", ".Png", " ", "webp"})
	want := []string{".jpg", ".png", ".webp"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

// TestNewTransport selects the stream transport by name
func TestNewTransport(t *testing.T) {
	svc := api.NewService(nil)

	for _, name := range []string{"", "sse", "SSE"} {
		tr, err := newTransport(svc, name)
		if err != nil {
			t.Fatalf("newTransport(%q): %v", name, err)
		}
		if _, ok := tr.(*stream.SSETransport); !ok {
			t.Errorf("Expected SSE transport for %q, got %T", name, tr)
		}
	}

	tr, err := newTransport(svc, "websocket")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tr.(*stream.WebSocketTransport); !ok {
		t.Errorf("Expected WebSocket transport, got %T", tr)
	}

	if _, err := newTransport(svc, "carrier-pigeon"); err == nil {
		t.Error("Expected error for unknown transport")
	}
}

// TestOpenPendingStore validates every backend
func TestOpenPendingStore(t *testing.T) {
	initConfig(t)
	ctx := context.Background()

	store, closeStore, err := openPendingStore(ctx, "file")
	if err != nil || closeStore != nil {
		t.Fatalf("file backend: %v", err)
	}
	if _, ok := store.(*pending.FileStore); !ok {
		t.Errorf("Expected file store, got %T", store)
	}

	store, _, err = openPendingStore(ctx, "memory")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := store.(*pending.MemoryStore); !ok {
		t.Errorf("Expected memory store, got %T", store)
	}

	mr := miniredis.RunT(t)
	config.Set("redis.addr", mr.Addr())
	store, closeStore, err = openPendingStore(ctx, "redis")
	if err != nil {
		t.Fatalf("redis backend: %v", err)
	}
	defer closeStore()

	rec := pending.Record{Kind: api.KindReel, ContentID: "r-1", CreatedAt: time.Now()}
	if err := store.Save(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("pending:reel:r-1") {
		t.Error("Expected record in redis")
	}

	if _, _, err := openPendingStore(ctx, "floppy"); err == nil {
		t.Error("Expected error for unknown backend")
	}
}
