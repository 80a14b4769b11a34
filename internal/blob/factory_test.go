package blob

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenSelectsDriverFromOptions(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, Options{Driver: DriverMemory})
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if store.Driver() != DriverMemory {
		t.Fatalf("expected memory driver, got %s", store.Driver())
	}

	root := filepath.Join(t.TempDir(), "blobs")
	store, err = Open(ctx, Options{Driver: DriverFilesystem, FSRoot: root})
	if err != nil {
		t.Fatalf("open fs: %v", err)
	}
	if store.Driver() != DriverFilesystem {
		t.Fatalf("expected fs driver, got %s", store.Driver())
	}
	if _, err := os.Stat(root); err != nil {
		t.Fatalf("configured root not created: %v", err)
	}
}

func TestOpenOptionsWinOverEnvironment(t *testing.T) {
	t.Setenv("ANNOTCORE_BLOB_DRIVER", "fs")
	t.Setenv("ANNOTCORE_BLOB_FS_ROOT", filepath.Join(t.TempDir(), "env-root"))

	store, err := Open(context.Background(), Options{Driver: DriverMemory})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if store.Driver() != DriverMemory {
		t.Fatalf("options driver must win over environment, got %s", store.Driver())
	}
}

func TestOpenFallsBackToEnvironment(t *testing.T) {
	t.Setenv("ANNOTCORE_BLOB_DRIVER", "memory")
	store, err := Open(context.Background(), Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if store.Driver() != DriverMemory {
		t.Fatalf("environment driver not applied, got %s", store.Driver())
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Options{Driver: "tape"}); err == nil {
		t.Fatalf("unknown driver must error")
	}
}
