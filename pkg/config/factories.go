package config

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/afero"

	"github.com/pheyse/FileSystemFacade-sub001/internal/logger"
	"github.com/pheyse/FileSystemFacade-sub001/internal/transport"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/backend/badger"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/backend/host"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/backend/memory"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/backend/relational"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/backend/s3"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/decorator/encrypt"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/decorator/history"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/decorator/metered"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/decorator/sandbox"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/metrics"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/remote"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs"
)

// Stack is a configured filesystem together with the resources it owns.
type Stack struct {
	// FS is the outermost layer
	FS vfs.FileSystem

	closers []io.Closer
}

// Close releases the backend's resources.
func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i].Close())
	}
	return errors.Join(errs...)
}

// decodeOptions decodes a type-specific configuration map into out.
// Weak typing lets "64" and 64 both decode into an int field, and
// durations may be written as strings.
func decodeOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		Result:           out,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(options)
}

// CreateStack builds the backend and applies the decorators in order.
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: The complete configuration
//   - m: Metrics from InitializeMetrics; nil disables the metrics decorator's recording
func CreateStack(ctx context.Context, cfg *Config, m *MetricsResult) (*Stack, error) {
	fsys, closer, err := CreateBackend(ctx, &cfg.Backend)
	if err != nil {
		return nil, err
	}
	stack := &Stack{FS: fsys}
	if closer != nil {
		stack.closers = append(stack.closers, closer)
	}

	var fsMetrics metrics.FSMetrics
	if m != nil {
		fsMetrics = m.FSMetrics
	}

	for i, d := range cfg.Decorators {
		next, err := CreateDecorator(ctx, stack.FS, d, fsMetrics)
		if err != nil {
			_ = stack.Close()
			return nil, fmt.Errorf("decorators[%d] (%s): %w", i, d.Type, err)
		}
		stack.FS = next
	}

	logger.Info("Filesystem stack ready: %s", stack.FS.Name())
	return stack, nil
}

// CreateBackend creates a backend based on configuration.
//
// This factory function uses the Type field to determine which backend to
// create, then decodes the type-specific configuration from the
// corresponding map and passes it to the backend's constructor. The
// returned closer is nil for backends that hold no resources.
//
// Supported types:
//   - "memory": pkg/backend/memory
//   - "relational": pkg/backend/relational (sqlite, mysql, postgres)
//   - "badger": pkg/backend/badger
//   - "s3": pkg/backend/s3 (Amazon S3 or compatible storage)
//   - "host": pkg/backend/host (a host directory, or RAM when in_memory is set)
func CreateBackend(ctx context.Context, cfg *BackendConfig) (vfs.FileSystem, io.Closer, error) {
	switch cfg.Type {
	case "memory":
		return createMemoryBackend(cfg.Memory)
	case "relational":
		return createRelationalBackend(ctx, cfg.Relational)
	case "badger":
		return createBadgerBackend(ctx, cfg.Badger)
	case "s3":
		return createS3Backend(ctx, cfg.S3)
	case "host":
		return createHostBackend(cfg.Host)
	default:
		return nil, nil, fmt.Errorf("unknown backend type: %q", cfg.Type)
	}
}

func createMemoryBackend(options map[string]any) (vfs.FileSystem, io.Closer, error) {
	type MemoryBackendConfig struct {
		Name string `mapstructure:"name"`
	}

	var backendCfg MemoryBackendConfig
	if err := decodeOptions(options, &backendCfg); err != nil {
		return nil, nil, fmt.Errorf("failed to decode memory backend config: %w", err)
	}
	return memory.New(memory.Config{Name: backendCfg.Name}), nil, nil
}

func createRelationalBackend(ctx context.Context, options map[string]any) (vfs.FileSystem, io.Closer, error) {
	type RelationalBackendConfig struct {
		Driver      string `mapstructure:"driver"`
		DSN         string `mapstructure:"dsn"`
		Table       string `mapstructure:"table"`
		AutoCreate  bool   `mapstructure:"auto_create"`
		Application string `mapstructure:"application"`
		Tenant      string `mapstructure:"tenant"`
	}

	var backendCfg RelationalBackendConfig
	if err := decodeOptions(options, &backendCfg); err != nil {
		return nil, nil, fmt.Errorf("failed to decode relational backend config: %w", err)
	}
	if backendCfg.Driver == "" || backendCfg.DSN == "" {
		return nil, nil, errors.New("relational backend: driver and dsn are required")
	}

	fsys, err := relational.New(ctx, relational.Config{
		Driver:      backendCfg.Driver,
		DSN:         backendCfg.DSN,
		Table:       backendCfg.Table,
		AutoCreate:  backendCfg.AutoCreate,
		Application: backendCfg.Application,
		Tenant:      backendCfg.Tenant,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create relational backend: %w", err)
	}
	return fsys, fsys, nil
}

func createBadgerBackend(ctx context.Context, options map[string]any) (vfs.FileSystem, io.Closer, error) {
	var backendCfg badger.Config
	if err := decodeOptions(options, &backendCfg); err != nil {
		return nil, nil, fmt.Errorf("failed to decode badger backend config: %w", err)
	}

	fsys, err := badger.New(ctx, backendCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create badger backend: %w", err)
	}
	return fsys, fsys, nil
}

func createS3Backend(ctx context.Context, options map[string]any) (vfs.FileSystem, io.Closer, error) {
	type S3BackendConfig struct {
		Bucket             string `mapstructure:"bucket"`
		KeyPrefix          string `mapstructure:"key_prefix"`
		MaxConflictRetries uint64 `mapstructure:"max_conflict_retries"`
	}

	var backendCfg S3BackendConfig
	if err := decodeOptions(options, &backendCfg); err != nil {
		return nil, nil, fmt.Errorf("failed to decode S3 backend config: %w", err)
	}
	var clientCfg s3.ClientConfig
	if err := decodeOptions(options, &clientCfg); err != nil {
		return nil, nil, fmt.Errorf("failed to decode S3 client config: %w", err)
	}
	if backendCfg.Bucket == "" {
		return nil, nil, errors.New("S3 backend: bucket is required")
	}

	client, err := s3.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	fsys, err := s3.New(ctx, s3.Config{
		Client:             client,
		Bucket:             backendCfg.Bucket,
		KeyPrefix:          backendCfg.KeyPrefix,
		MaxConflictRetries: backendCfg.MaxConflictRetries,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create S3 backend: %w", err)
	}
	return fsys, nil, nil
}

func createHostBackend(options map[string]any) (vfs.FileSystem, io.Closer, error) {
	type HostBackendConfig struct {
		Root     string `mapstructure:"root"`
		InMemory bool   `mapstructure:"in_memory"`
	}

	var backendCfg HostBackendConfig
	if err := decodeOptions(options, &backendCfg); err != nil {
		return nil, nil, fmt.Errorf("failed to decode host backend config: %w", err)
	}

	if backendCfg.InMemory {
		return host.NewMemory(), nil, nil
	}

	// The OS root is created on first use so a fresh install works.
	if err := afero.NewOsFs().MkdirAll(backendCfg.Root, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create host root %s: %w", backendCfg.Root, err)
	}
	fsys, err := host.New(host.Config{Root: backendCfg.Root})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create host backend: %w", err)
	}
	return fsys, nil, nil
}

// CreateDecorator wraps inner with the decorator d describes.
func CreateDecorator(ctx context.Context, inner vfs.FileSystem, d DecoratorConfig, m metrics.FSMetrics) (vfs.FileSystem, error) {
	switch d.Type {
	case "sandbox":
		type SandboxConfig struct {
			Base string `mapstructure:"base"`
		}
		var c SandboxConfig
		if err := decodeOptions(d.Options, &c); err != nil {
			return nil, err
		}
		return sandbox.New(ctx, inner, c.Base)

	case "encryption":
		type EncryptionConfig struct {
			Base       string            `mapstructure:"base"`
			Passphrase string            `mapstructure:"passphrase"`
			Salt       string            `mapstructure:"salt"`
			KDF        encrypt.KDFParams `mapstructure:"kdf"`
		}
		var c EncryptionConfig
		if err := decodeOptions(d.Options, &c); err != nil {
			return nil, err
		}
		return encrypt.New(inner, encrypt.Config{
			Base:       c.Base,
			Passphrase: c.Passphrase,
			Salt:       c.Salt,
			KDF:        c.KDF,
		})

	case "history":
		type HistoryConfig struct {
			Versioning  bool   `mapstructure:"versioning"`
			History     bool   `mapstructure:"history"`
			HistoryDir  string `mapstructure:"history_dir"`
			MaxRetained int    `mapstructure:"max_retained"`
		}
		var c HistoryConfig
		if err := decodeOptions(d.Options, &c); err != nil {
			return nil, err
		}
		return history.New(inner, history.Config{
			Versioning:  c.Versioning,
			History:     c.History,
			HistoryDir:  c.HistoryDir,
			MaxRetained: c.MaxRetained,
		})

	case "metrics":
		return metered.New(inner, m), nil

	default:
		return nil, fmt.Errorf("unknown decorator type: %q", d.Type)
	}
}

// CreateSystemProvider registers fsys under the server's application and
// tenant and adds the configured users.
func CreateSystemProvider(cfg *ServerConfig, fsys vfs.FileSystem) (*remote.StaticSystemProvider, error) {
	systems := remote.NewStaticSystemProvider()
	systems.Register(cfg.Application, cfg.Tenant, fsys)

	for _, u := range cfg.Users {
		var err error
		if u.PasswordHash != "" {
			err = systems.AddUserHash(cfg.Application, cfg.Tenant, u.Username, []byte(u.PasswordHash))
		} else {
			err = systems.AddUser(cfg.Application, cfg.Tenant, u.Username, u.Password)
		}
		if err != nil {
			return nil, fmt.Errorf("user %q: %w", u.Username, err)
		}
	}
	if len(cfg.Users) == 0 {
		logger.Warn("No server users configured: every remote call will be rejected")
	}
	return systems, nil
}

// CreateServer builds the socket server serving fsys.
func CreateServer(cfg *ServerConfig, fsys vfs.FileSystem, m *MetricsResult) (*transport.Server, error) {
	systems, err := CreateSystemProvider(cfg, fsys)
	if err != nil {
		return nil, err
	}

	var remoteMetrics metrics.RemoteMetrics
	if m != nil {
		remoteMetrics = m.RemoteMetrics
	}

	opts := []remote.ResponderOption{remote.WithMetrics(remoteMetrics)}
	if cfg.MaxFrameSize > 0 {
		opts = append(opts, remote.WithMaxFrameSize(cfg.MaxFrameSize))
	}
	responder := remote.NewResponder(systems, opts...)

	return transport.NewServer(cfg.Transport, responder, remoteMetrics)
}

// CreateClient builds a remote filesystem from the client section.
// Returns an error when no server address is configured.
func CreateClient(cfg *ClientConfig) (*remote.Client, error) {
	if cfg.Dial.Address == "" {
		return nil, errors.New("client.dial.address is not configured")
	}
	return remote.NewClient(remote.ClientConfig{
		Provider: transport.NewSocketProvider(cfg.Dial),
		Credentials: remote.Credentials{
			App:      cfg.Application,
			Tenant:   cfg.Tenant,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compress: cfg.Compress,
	}), nil
}
