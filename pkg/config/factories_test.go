package config

import (
	"context"
	"net"
	"strings"
	"testing"

	"github.com/pheyse/FileSystemFacade-sub001/pkg/decorator/history"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/decorator/metered"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/decorator/sandbox"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs"
)

func TestCreateBackend(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		cfg  BackendConfig
	}{
		{name: "memory", cfg: BackendConfig{Type: "memory", Memory: map[string]any{"name": "scratch"}}},
		{name: "host in memory", cfg: BackendConfig{Type: "host", Host: map[string]any{"in_memory": true}}},
		{name: "host directory", cfg: BackendConfig{Type: "host", Host: map[string]any{"root": t.TempDir() + "/files"}}},
		{name: "badger", cfg: BackendConfig{Type: "badger", Badger: map[string]any{"in_memory": true}}},
		{name: "relational", cfg: BackendConfig{Type: "relational", Relational: map[string]any{
			"driver":      "sqlite",
			"dsn":         "file:factories?mode=memory&cache=shared",
			"auto_create": "true",
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys, closer, err := CreateBackend(ctx, &tt.cfg)
			if err != nil {
				t.Fatalf("Failed to create %s backend: %v", tt.name, err)
			}
			if closer != nil {
				defer func() { _ = closer.Close() }()
			}

			f, err := vfs.CreateByPath(fsys, "/hello.txt")
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if err := f.WriteString(ctx, "hi"); err != nil {
				t.Fatalf("Write failed: %v", err)
			}
			text, err := f.ReadString(ctx)
			if err != nil || text != "hi" {
				t.Fatalf("Expected %q, got %q (%v)", "hi", text, err)
			}
		})
	}
}

func TestCreateBackend_Errors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		cfg     BackendConfig
		wantErr string
	}{
		{name: "unknown type", cfg: BackendConfig{Type: "tape"}, wantErr: "unknown backend type"},
		{name: "relational without dsn", cfg: BackendConfig{Type: "relational", Relational: map[string]any{"driver": "sqlite"}}, wantErr: "driver and dsn are required"},
		{name: "s3 without bucket", cfg: BackendConfig{Type: "s3", S3: map[string]any{"region": "us-east-1"}}, wantErr: "bucket is required"},
		{name: "s3 without region", cfg: BackendConfig{Type: "s3", S3: map[string]any{"bucket": "b"}}, wantErr: "region is required"},
		{name: "badger without path", cfg: BackendConfig{Type: "badger", Badger: map[string]any{}}, wantErr: "badger"},
		{name: "bad option type", cfg: BackendConfig{Type: "host", Host: map[string]any{"in_memory": map[string]any{"x": 1}}}, wantErr: "decode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := CreateBackend(ctx, &tt.cfg)
			if err == nil {
				t.Fatal("Expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestCreateStack_AppliesDecoratorsInOrder(t *testing.T) {
	ctx := context.Background()

	cfg := GetDefaultConfig()
	cfg.Decorators = []DecoratorConfig{
		{Type: "history", Options: map[string]any{"history": true, "max_retained": 2}},
		{Type: "metrics"},
	}

	stack, err := CreateStack(ctx, cfg, InitializeMetrics(cfg))
	if err != nil {
		t.Fatalf("CreateStack failed: %v", err)
	}
	defer func() { _ = stack.Close() }()

	outer, ok := stack.FS.(*metered.FileSystem)
	if !ok {
		t.Fatalf("Expected metered outermost, got %T", stack.FS)
	}
	if _, ok := outer.Unwrap().(*history.FileSystem); !ok {
		t.Fatalf("Expected history below metrics, got %T", outer.Unwrap())
	}

	f, err := vfs.CreateByPath(stack.FS, "/notes.txt")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	for _, text := range []string{"one", "two"} {
		if err := f.WriteString(ctx, text); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	ids, err := f.HistoryTimes(ctx)
	if err != nil {
		t.Fatalf("HistoryTimes failed: %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("Expected 1 history entry, got %d", len(ids))
	}
}

func TestCreateDecorator_Sandbox(t *testing.T) {
	ctx := context.Background()

	inner, _, err := CreateBackend(ctx, &BackendConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("CreateBackend failed: %v", err)
	}
	if err := vfs.NewFile(inner, vfs.MustParsePath("/jail")).Mkdirs(ctx); err != nil {
		t.Fatalf("Mkdirs failed: %v", err)
	}

	fsys, err := CreateDecorator(ctx, inner, DecoratorConfig{Type: "sandbox", Options: map[string]any{"base": "/jail"}}, nil)
	if err != nil {
		t.Fatalf("CreateDecorator failed: %v", err)
	}
	if _, ok := fsys.(*sandbox.FileSystem); !ok {
		t.Fatalf("Expected sandbox, got %T", fsys)
	}

	_, err = CreateDecorator(ctx, inner, DecoratorConfig{Type: "sandbox", Options: map[string]any{"base": "/missing"}}, nil)
	if err == nil {
		t.Fatal("Expected error for missing sandbox base")
	}
}

func TestCreateDecorator_Encryption(t *testing.T) {
	ctx := context.Background()

	inner, _, err := CreateBackend(ctx, &BackendConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("CreateBackend failed: %v", err)
	}

	fsys, err := CreateDecorator(ctx, inner, DecoratorConfig{Type: "encryption", Options: map[string]any{
		"passphrase": "correct horse",
		"kdf":        map[string]any{"time": 1, "memory_kib": 1024, "threads": 1},
	}}, nil)
	if err != nil {
		t.Fatalf("CreateDecorator failed: %v", err)
	}

	f, _ := vfs.CreateByPath(fsys, "/secret.txt")
	if err := f.WriteString(ctx, "plain"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	names, err := vfs.NewFile(inner, vfs.Root).ListNames(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(names) != 1 || names[0] == "secret.txt" {
		t.Errorf("Expected one encrypted name, got %v", names)
	}
}

func TestCreateServerAndClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := GetDefaultConfig()
	cfg.Decorators = nil
	cfg.Server.Transport.Listen = "127.0.0.1:0"
	cfg.Server.Users = []UserConfig{{Username: "alice", Password: "secret"}}

	stack, err := CreateStack(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("CreateStack failed: %v", err)
	}
	defer func() { _ = stack.Close() }()

	server, err := CreateServer(&cfg.Server, stack.FS, nil)
	if err != nil {
		t.Fatalf("CreateServer failed: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	go func() { _ = server.ServeListener(ctx, ln) }()
	defer func() { _ = server.Stop(context.Background()) }()

	cfg.Client.Dial.Address = ln.Addr().String()
	cfg.Client.Username = "alice"
	cfg.Client.Password = "secret"
	client, err := CreateClient(&cfg.Client)
	if err != nil {
		t.Fatalf("CreateClient failed: %v", err)
	}

	f, _ := vfs.CreateByPath(client, "/remote.txt")
	if err := f.WriteString(ctx, "over the wire"); err != nil {
		t.Fatalf("Remote write failed: %v", err)
	}
	text, err := vfs.NewFile(stack.FS, vfs.MustParsePath("/remote.txt")).ReadString(ctx)
	if err != nil || text != "over the wire" {
		t.Fatalf("Expected %q on the server stack, got %q (%v)", "over the wire", text, err)
	}
}

func TestCreateClient_RequiresAddress(t *testing.T) {
	if _, err := CreateClient(&ClientConfig{}); err == nil {
		t.Fatal("Expected error without address")
	}
}

func TestCreateSystemProvider_PasswordHash(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.Users = []UserConfig{{Username: "bob", PasswordHash: "not-a-bcrypt-hash"}}

	if _, err := CreateSystemProvider(&cfg.Server, nil); err == nil {
		t.Fatal("Expected error for an invalid bcrypt hash")
	}
}
