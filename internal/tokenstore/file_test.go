package tokenstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func testCredential() *Credential {
	return &Credential{
		AccessToken:  "access-123",
		RefreshToken: "refresh-456",
		ExpiresAt:    time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC),
		Scope:        []string{"offline_access", "mb:vehicle:mbdata:vehiclestatus"},
	}
}

func TestNewFileStore(t *testing.T) {
	t.Run("empty path rejected", func(t *testing.T) {
		if _, err := NewFileStore(""); err == nil {
			t.Error("expected error for empty path")
		}
	})

	t.Run("creates parent directories", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "deeper", "state.json")
		if _, err := NewFileStore(path); err != nil {
			t.Fatalf("NewFileStore failed: %v", err)
		}

		info, err := os.Stat(filepath.Dir(path))
		if err != nil {
			t.Fatalf("parent directory missing: %v", err)
		}
		if perm := info.Mode().Perm(); perm != 0700 {
			t.Errorf("parent directory permissions = %04o, want 0700", perm)
		}
	})
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	in := testCredential()
	if err := store.Save(ctx, in); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("state file missing after Save: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("state file permissions = %04o, want 0600", perm)
	}

	out, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if out == nil {
		t.Fatal("Load returned nil credential")
	}

	if out.AccessToken != in.AccessToken || out.RefreshToken != in.RefreshToken {
		t.Errorf("tokens = (%q, %q), want (%q, %q)", out.AccessToken, out.RefreshToken, in.AccessToken, in.RefreshToken)
	}
	if !out.ExpiresAt.Equal(in.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", out.ExpiresAt, in.ExpiresAt)
	}
	if !reflect.DeepEqual(out.Scope, in.Scope) {
		t.Errorf("Scope = %v, want %v", out.Scope, in.Scope)
	}
}

func TestFileStoreSaveOverwrites(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	first := testCredential()
	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("first Save failed: %v", err)
	}

	second := testCredential()
	second.AccessToken = "access-789"
	second.RefreshToken = "refresh-789"
	if err := store.Save(ctx, second); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	out, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if out.AccessToken != "access-789" || out.RefreshToken != "refresh-789" {
		t.Errorf("loaded (%q, %q), want the second credential", out.AccessToken, out.RefreshToken)
	}
}

func TestFileStoreAbsent(t *testing.T) {
	ctx := context.Background()

	t.Run("missing file", func(t *testing.T) {
		store, err := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
		if err != nil {
			t.Fatalf("NewFileStore failed: %v", err)
		}

		cred, err := store.Load(ctx)
		if err != nil {
			t.Fatalf("Load of missing file: err = %v, want nil", err)
		}
		if cred != nil {
			t.Errorf("Load of missing file = %+v, want nil", cred)
		}
	})

	t.Run("empty file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "state.json")
		if err := os.WriteFile(path, []byte("\n"), 0600); err != nil {
			t.Fatal(err)
		}

		store, err := NewFileStore(path)
		if err != nil {
			t.Fatalf("NewFileStore failed: %v", err)
		}

		cred, err := store.Load(ctx)
		if err != nil {
			t.Fatalf("Load of empty file: err = %v, want nil", err)
		}
		if cred != nil {
			t.Errorf("Load of empty file = %+v, want nil", cred)
		}
	})
}

func TestFileStoreCorrupt(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		content string
	}{
		{name: "truncated JSON", content: `{"access_token": "abc`},
		{name: "not JSON", content: `<html>definitely not a credential</html>`},
		{name: "no token material", content: `{"token_type": "Bearer"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "state.json")
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}

			store, err := NewFileStore(path)
			if err != nil {
				t.Fatalf("NewFileStore failed: %v", err)
			}

			cred, err := store.Load(ctx)
			if cred != nil {
				t.Errorf("Load = %+v, want nil", cred)
			}
			if !errors.Is(err, ErrCorrupt) {
				t.Errorf("Load err = %v, want ErrCorrupt", err)
			}

			var corrupt *CorruptError
			if !errors.As(err, &corrupt) {
				t.Fatalf("Load err = %T, want *CorruptError", err)
			}
			if corrupt.Source != path {
				t.Errorf("CorruptError.Source = %q, want %q", corrupt.Source, path)
			}
		})
	}
}

func TestFileStoreLoadsPredecessorState(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	// Layout written by the Python exporter this one replaces.
	content := `{"access_token": "at", "refresh_token": "rt", "expires_in": 3599, ` +
		`"token_type": "Bearer", "expires_at": 1748781000.347218, ` +
		`"scope": ["offline_access", "mb:vehicle:mbdata:evstatus"]}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	cred, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cred.AccessToken != "at" || cred.RefreshToken != "rt" {
		t.Errorf("tokens = (%q, %q), want (at, rt)", cred.AccessToken, cred.RefreshToken)
	}
	if cred.ExpiresAt.Unix() != 1748781000 {
		t.Errorf("ExpiresAt = %v, want epoch 1748781000", cred.ExpiresAt)
	}
	if len(cred.Scope) != 2 {
		t.Errorf("Scope = %v, want two entries", cred.Scope)
	}
}

func TestFileStoreInsecurePermissions(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte(`{"access_token":"at","refresh_token":"rt"}`), 0644); err != nil {
		t.Fatal(err)
	}

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	_, err = store.Load(ctx)
	if err == nil {
		t.Fatal("expected error for 0644 state file")
	}
	if errors.Is(err, ErrCorrupt) {
		t.Error("permission error must not classify as corrupt state")
	}
}

func TestFileStoreClear(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	// Clearing absent state is fine
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear of absent state failed: %v", err)
	}

	if err := store.Save(ctx, testCredential()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("state file still present after Clear: %v", err)
	}

	cred, err := store.Load(ctx)
	if err != nil || cred != nil {
		t.Errorf("Load after Clear = (%+v, %v), want (nil, nil)", cred, err)
	}
}

func TestFileStoreCanceledContext(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.Load(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Load err = %v, want context.Canceled", err)
	}
	if err := store.Save(ctx, testCredential()); !errors.Is(err, context.Canceled) {
		t.Errorf("Save err = %v, want context.Canceled", err)
	}
}
