package remote

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pheyse/FileSystemFacade-sub001/internal/codec"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/backend/memory"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/decorator/history"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs/vfstest"
)

var testCreds = Credentials{App: "app", Tenant: "acme", Username: "alice", Password: "s3cret"}

// newServed registers fsys behind a loopback responder and returns a
// client for it.
func newServed(t *testing.T, fsys vfs.FileSystem, compress bool) *Client {
	t.Helper()
	systems := NewStaticSystemProvider()
	systems.Register(testCreds.App, testCreds.Tenant, fsys)
	require.NoError(t, systems.AddUser(testCreds.App, testCreds.Tenant, testCreds.Username, testCreds.Password))

	return NewClient(ClientConfig{
		Provider:    &Loopback{Responder: NewResponder(systems)},
		Credentials: testCreds,
		Compress:    compress,
	})
}

func TestRemoteConformance(t *testing.T) {
	for name, compress := range map[string]bool{"Plain": false, "Zstd": true} {
		t.Run(name, func(t *testing.T) {
			suite := &vfstest.Suite{
				NewFileSystem: func(t *testing.T) vfs.FileSystem {
					return newServed(t, memory.New(memory.Config{}), compress)
				},
			}
			suite.Run(t)
		})
	}
}

func TestListFilesThroughRemote(t *testing.T) {
	ctx := context.Background()
	backend := memory.New(memory.Config{})
	vfstest.MustWriteString(t, backend, "/dir/a.txt", "hello")
	vfstest.MustMkdirs(t, backend, "/dir/b")

	client := newServed(t, backend, false)
	files, err := vfstest.MustFile(t, client, "/dir").ListFiles(ctx)
	require.NoError(t, err)

	var names []string
	for _, f := range files {
		names = append(names, f.Name())
	}
	assert.Equal(t, []string{"a.txt", "b"}, names)
	assert.Equal(t, "hello", vfstest.MustReadString(t, client, "/dir/a.txt"))
}

func TestListNamesTravelInNamesSlot(t *testing.T) {
	ctx := context.Background()
	backend := memory.New(memory.Config{})
	vfstest.MustWriteString(t, backend, "/dir/a.txt", "hello")
	vfstest.MustMkdirs(t, backend, "/dir/b")

	client := newServed(t, backend, false)
	resp := client.Call(ctx, &Request{Op: OpListNames, Path: "/dir"})
	require.NoError(t, resp.Err())
	require.NotNil(t, resp.Names)
	assert.Nil(t, resp.Value)
	assert.Equal(t, []string{"a.txt", "b"}, *resp.Names)

	direct, err := vfstest.MustFile(t, backend, "/dir").ListNames(ctx)
	require.NoError(t, err)
	remote, err := vfstest.MustFile(t, client, "/dir").ListNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, direct, remote)
}

func TestWrongPasswordIsAuthenticationFailure(t *testing.T) {
	client := newServed(t, memory.New(memory.Config{}), false)
	client.cfg.Credentials.Password = "wrong"

	_, err := client.Stat(context.Background(), vfs.Root)
	assert.ErrorIs(t, err, vfs.ErrAuthentication)
	assert.NotContains(t, err.Error(), "wrong")
}

func TestUnknownTenantIsAuthenticationFailure(t *testing.T) {
	client := newServed(t, memory.New(memory.Config{}), false)
	client.cfg.Credentials.Tenant = "other"

	_, err := client.Stat(context.Background(), vfs.Root)
	assert.ErrorIs(t, err, vfs.ErrAuthentication)
}

func TestVersionMismatchKeepsCategory(t *testing.T) {
	ctx := context.Background()
	client := newServed(t, memory.New(memory.Config{}), false)
	f := vfstest.MustFile(t, client, "/doc.txt")

	v1, err := f.WriteStringVersioned(ctx, vfs.Versioned[string]{Value: "one"})
	require.NoError(t, err)
	_, err = f.WriteStringVersioned(ctx, vfs.Versioned[string]{Value: "two", Version: v1})
	require.NoError(t, err)

	_, err = f.WriteStringVersioned(ctx, vfs.Versioned[string]{Value: "stale", Version: v1})
	require.ErrorIs(t, err, vfs.ErrVersionMismatch)

	var fsErr *vfs.Error
	require.True(t, errors.As(err, &fsErr))
	assert.Equal(t, v1, fsErr.Expected)
	assert.Equal(t, v1+1, fsErr.Actual)
	assert.Equal(t, "two", vfstest.MustReadString(t, client, "/doc.txt"))
}

func TestRemoteFailureKeepsCategory(t *testing.T) {
	client := newServed(t, memory.New(memory.Config{}), false)
	_, err := client.Stat(context.Background(), vfs.MustParsePath("/missing"))
	assert.ErrorIs(t, err, vfs.ErrNotFound)
	assert.Contains(t, err.Error(), "/missing")
}

func TestHistoryThroughRemote(t *testing.T) {
	ctx := context.Background()
	hist, err := history.New(memory.New(memory.Config{}), history.Config{Versioning: true})
	require.NoError(t, err)
	client := newServed(t, hist, true)

	f := vfstest.MustFile(t, client, "/doc.txt")
	require.NoError(t, f.WriteString(ctx, "one"))
	require.NoError(t, f.WriteString(ctx, "two"))

	ids, err := f.HistoryTimes(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	old, err := f.ReadHistoryBytes(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "one", string(old))

	local := memory.New(memory.Config{})
	require.NoError(t, f.CopyHistoryTree(ctx, vfstest.MustFile(t, local, "/copy")))
	names := vfstest.MustListNames(t, local, "/copy")
	assert.Len(t, names, 1)
}

func TestHistoryUnsupportedRemotely(t *testing.T) {
	client := newServed(t, memory.New(memory.Config{}), false)
	vfstest.MustWriteString(t, client, "/a.txt", "x")

	_, err := client.HistoryTimes(context.Background(), vfs.MustParsePath("/a.txt"))
	assert.ErrorIs(t, err, vfs.ErrUnsupported)
}

type failingProvider struct{}

func (failingProvider) Connect(ctx context.Context) (*Conn, error) {
	return nil, errors.New("connection refused")
}

func TestConnectFailureIsLocal(t *testing.T) {
	client := NewClient(ClientConfig{Provider: failingProvider{}, Credentials: testCreds})

	resp := client.Call(context.Background(), &Request{Op: OpStat})
	require.Error(t, resp.LocalFailure)
	require.NoError(t, resp.Validate())

	_, err := client.Stat(context.Background(), vfs.Root)
	assert.ErrorIs(t, err, vfs.ErrTransport)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestGarbageRequestGetsFailureResponse(t *testing.T) {
	responder := NewResponder(NewStaticSystemProvider())
	var out bytes.Buffer
	err := responder.Serve(context.Background(), bytes.NewReader([]byte{7, 7, 7}), &out)
	require.ErrorIs(t, err, ErrMalformedRequest)

	var resp Response
	_, err = codec.ReadFrame(&out, &resp, 0)
	require.NoError(t, err)
	require.NoError(t, resp.Validate())
	require.NotNil(t, resp.Failure)
}

func TestMalformedRequestOverLoopbackKeepsResponse(t *testing.T) {
	lb := &Loopback{Responder: NewResponder(NewStaticSystemProvider())}
	conn, err := lb.Connect(context.Background())
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	_, err = conn.Out.Write([]byte{9, 1, 2})
	require.NoError(t, err)
	require.NoError(t, conn.Out.Close())

	var resp Response
	_, err = codec.ReadFrame(conn.In, &resp, 0)
	require.NoError(t, err)
	require.NoError(t, resp.Validate())
	require.NotNil(t, resp.Failure)
	assert.Nil(t, resp.LocalFailure)
}

func TestOversizedRequestGetsRemoteFailure(t *testing.T) {
	systems := NewStaticSystemProvider()
	systems.Register(testCreds.App, testCreds.Tenant, memory.New(memory.Config{}))
	require.NoError(t, systems.AddUser(testCreds.App, testCreds.Tenant, testCreds.Username, testCreds.Password))
	client := NewClient(ClientConfig{
		Provider:    &Loopback{Responder: NewResponder(systems, WithMaxFrameSize(1024))},
		Credentials: testCreds,
	})

	done := make(chan error, 1)
	go func() {
		_, err := client.WriteVersioned(context.Background(), vfs.MustParsePath("/big.bin"),
			bytes.Repeat([]byte{'x'}, 1<<20), vfs.InitialVersion)
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, vfs.ErrBackend)
		assert.NotErrorIs(t, err, vfs.ErrTransport)
	case <-time.After(10 * time.Second):
		t.Fatal("oversized write did not return")
	}

	_, err := client.Stat(context.Background(), vfs.MustParsePath("/big.bin"))
	assert.ErrorIs(t, err, vfs.ErrNotFound)
}

func TestValidateExactlyOne(t *testing.T) {
	names := []string{}
	n := int64(1)
	msg := "denied"

	cases := map[string]struct {
		resp  Response
		valid bool
	}{
		"empty":                  {Response{}, false},
		"empty names":            {Response{Names: &names}, true},
		"number":                 {Response{Number: &n}, true},
		"auth failure":           {Response{AuthFailure: &msg}, true},
		"two results":            {Response{Names: &names, Number: &n}, false},
		"result and failure":     {Response{Number: &n, Failure: &Failure{Code: "x"}}, false},
		"local failure":          {Response{LocalFailure: io.ErrUnexpectedEOF}, true},
		"local failure and slot": {Response{LocalFailure: io.ErrUnexpectedEOF, Number: &n}, false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := tc.resp.Validate()
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidResponse)
			}
		})
	}
}

func TestEmptyContentSurvivesTheWire(t *testing.T) {
	ctx := context.Background()
	client := newServed(t, memory.New(memory.Config{}), false)
	vfstest.MustWriteString(t, client, "/empty.txt", "")

	v, err := client.ReadVersioned(ctx, vfs.MustParsePath("/empty.txt"))
	require.NoError(t, err)
	assert.Empty(t, v.Value)
	assert.Equal(t, int64(1), v.Version)

	names := vfstest.MustListNames(t, client, "")
	assert.Equal(t, []string{"empty.txt"}, names)
}

func TestAddUserRequiresRegisteredSystem(t *testing.T) {
	systems := NewStaticSystemProvider()
	err := systems.AddUser("app", "nobody", "alice", "pw")
	assert.ErrorIs(t, err, vfs.ErrNotFound)
}

func TestUnknownUserIsRejectedAtFullCost(t *testing.T) {
	systems := NewStaticSystemProvider()
	systems.Register(testCreds.App, testCreds.Tenant, memory.New(memory.Config{}))
	require.NoError(t, systems.AddUser(testCreds.App, testCreds.Tenant, testCreds.Username, testCreds.Password))

	creds := testCreds
	creds.Username = "mallory"
	creds.Password = "fsfacade-unknown-user"
	_, err := systems.Open(context.Background(), creds)
	assert.ErrorIs(t, err, vfs.ErrAuthentication)

	cost, err := bcrypt.Cost(dummyHash())
	require.NoError(t, err)
	assert.Equal(t, bcrypt.DefaultCost, cost)
}
