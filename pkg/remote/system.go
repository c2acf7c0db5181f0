package remote

import (
	"context"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs"
)

// SystemProvider authenticates a caller and resolves the filesystem it may
// operate on. Rejections must carry vfs.ErrAuthentication.
type SystemProvider interface {
	Open(ctx context.Context, creds Credentials) (vfs.FileSystem, error)
}

// SystemProviderFunc adapts a function to SystemProvider.
type SystemProviderFunc func(ctx context.Context, creds Credentials) (vfs.FileSystem, error)

// Open implements SystemProvider.
func (f SystemProviderFunc) Open(ctx context.Context, creds Credentials) (vfs.FileSystem, error) {
	return f(ctx, creds)
}

// dummyHash is compared against when the user does not exist.
var dummyHash = sync.OnceValue(func() []byte {
	hash, err := bcrypt.GenerateFromPassword([]byte("fsfacade-unknown-user"), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return hash
})

type systemKey struct {
	app    string
	tenant string
}

type system struct {
	fs    vfs.FileSystem
	users map[string][]byte
}

// StaticSystemProvider serves a fixed set of filesystems, one per
// application and tenant, each with its own users. Passwords are stored as
// bcrypt hashes.
type StaticSystemProvider struct {
	mu      sync.RWMutex
	systems map[systemKey]*system
}

var _ SystemProvider = (*StaticSystemProvider)(nil)

// NewStaticSystemProvider creates an empty provider.
func NewStaticSystemProvider() *StaticSystemProvider {
	return &StaticSystemProvider{systems: make(map[systemKey]*system)}
}

// Register makes fsys reachable as app/tenant, replacing any previous
// registration and its users.
func (p *StaticSystemProvider) Register(app, tenant string, fsys vfs.FileSystem) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.systems[systemKey{app, tenant}] = &system{fs: fsys, users: make(map[string][]byte)}
}

// AddUser grants username access to app/tenant with a plaintext password.
func (p *StaticSystemProvider) AddUser(app, tenant, username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return p.AddUserHash(app, tenant, username, hash)
}

// AddUserHash grants username access to app/tenant with a precomputed
// bcrypt hash.
func (p *StaticSystemProvider) AddUserHash(app, tenant, username string, hash []byte) error {
	if _, err := bcrypt.Cost(hash); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	sys, ok := p.systems[systemKey{app, tenant}]
	if !ok {
		return vfs.NewError(vfs.ErrNotFound, "add-user", vfs.Root, "no filesystem registered for "+app+"/"+tenant)
	}
	sys.users[username] = hash
	return nil
}

// Open implements SystemProvider. Every rejection reads the same so that
// callers cannot probe which part of the credentials was wrong.
func (p *StaticSystemProvider) Open(ctx context.Context, creds Credentials) (vfs.FileSystem, error) {
	p.mu.RLock()
	sys, ok := p.systems[systemKey{creds.App, creds.Tenant}]
	var hash []byte
	if ok {
		hash = sys.users[creds.Username]
	}
	p.mu.RUnlock()

	known := hash != nil
	if !known {
		// Unknown users cost a full comparison too.
		hash = dummyHash()
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(creds.Password)) != nil || !known {
		return nil, &vfs.Error{Code: vfs.ErrAuthentication, Message: "invalid credentials"}
	}
	return sys.fs, nil
}
