package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
)

func TestOpenDefaultsToFilesystem(t *testing.T) {
	t.Setenv("STUDYCORE_BLOB_DRIVER", "")
	t.Setenv("STUDYCORE_BLOB_FS_ROOT", filepath.Join(t.TempDir(), "blobs"))
	store, err := Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if store.Driver() != DriverFilesystem {
		t.Fatalf("expected fs driver, got %s", store.Driver())
	}
}

func TestOpenMemoryDriver(t *testing.T) {
	t.Setenv("STUDYCORE_BLOB_DRIVER", "memory")
	store, err := Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if store.Driver() != DriverMemory {
		t.Fatalf("expected memory driver, got %s", store.Driver())
	}
}

func TestOpenS3RequiresBucket(t *testing.T) {
	t.Setenv("STUDYCORE_BLOB_DRIVER", "s3")
	t.Setenv("STUDYCORE_BLOB_S3_BUCKET", "")
	if _, err := Open(context.Background()); err == nil {
		t.Fatalf("expected error without bucket")
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Setenv("STUDYCORE_BLOB_DRIVER", "carrier-pigeon")
	if _, err := Open(context.Background()); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestFilesystemRoundTripThroughFacade(t *testing.T) {
	store, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("new filesystem: %v", err)
	}
	ctx := context.Background()
	info, err := store.Put(ctx, "exports/run-1/cells.csv", bytes.NewReader([]byte("group,mean\nhungry,0.61\n")), PutOptions{ContentType: "text/csv"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.ETag == "" || info.URL == "" {
		t.Fatalf("expected etag and url, got %+v", info)
	}
	got, rc, err := store.Get(ctx, "exports/run-1/cells.csv")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	payload, _ := io.ReadAll(rc)
	_ = rc.Close()
	if got.ContentType != "text/csv" || len(payload) != int(info.Size) {
		t.Fatalf("round trip mismatch: %+v %d", got, len(payload))
	}
}

func TestMemoryPresignUnsupportedThroughFacade(t *testing.T) {
	store := NewMemory()
	if _, err := store.PresignURL(context.Background(), "k", SignedURLOptions{}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestMockS3ThroughFacade(t *testing.T) {
	store := NewMockS3ForTests()
	ctx := context.Background()
	if store.Driver() != DriverS3 {
		t.Fatalf("expected s3 driver")
	}
	if _, err := store.Put(ctx, "a.json", bytes.NewReader([]byte("{}")), PutOptions{ContentType: "application/json"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	url, err := store.PresignURL(ctx, "a.json", SignedURLOptions{})
	if err != nil || url == "" {
		t.Fatalf("presign: %v %q", err, url)
	}
}
