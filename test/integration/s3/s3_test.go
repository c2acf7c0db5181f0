//go:build integration

package s3_test

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"

	s3backend "github.com/pheyse/FileSystemFacade-sub001/pkg/backend/s3"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/decorator/history"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs/vfstest"
)

// setupTestS3 creates an S3 client and test bucket for integration tests.
//
// It connects to Localstack (or other S3-compatible endpoint) and creates a
// test bucket that is emptied and deleted when the test ends.
func setupTestS3(t *testing.T, bucketName string) *s3.Client {
	t.Helper()
	ctx := context.Background()

	endpoint := os.Getenv("LOCALSTACK_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:4566"
	}

	client, err := s3backend.NewClient(ctx, s3backend.ClientConfig{
		Region:          "us-east-1",
		Endpoint:        endpoint,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	require.NoError(t, err)

	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucketName)})
	require.NoError(t, err, "is Localstack running on %s?", endpoint)

	t.Cleanup(func() {
		paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{Bucket: aws.String(bucketName)})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				break
			}
			for _, obj := range page.Contents {
				_, _ = client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucketName), Key: obj.Key})
			}
		}
		_, _ = client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucketName)})
	})

	return client
}

// TestS3Backend_Integration runs the conformance suite against a real
// S3-compatible service (Localstack).
//
// Prerequisites:
//   - Localstack running on localhost:4566
//   - Run with: go test -tags=integration ./test/integration/s3/...
//
// To start Localstack:
//
//	docker run --rm -p 4566:4566 localstack/localstack
func TestS3Backend_Integration(t *testing.T) {
	ctx := context.Background()
	bucketName := "fsfacade-test-bucket"
	client := setupTestS3(t, bucketName)

	// Each test gets a fresh filesystem under its own key prefix.
	testCounter := 0
	suite := &vfstest.Suite{
		NewFileSystem: func(t *testing.T) vfs.FileSystem {
			testCounter++
			fsys, err := s3backend.New(ctx, s3backend.Config{
				Client:    client,
				Bucket:    bucketName,
				KeyPrefix: fmt.Sprintf("test-%d/", testCounter),
			})
			require.NoError(t, err)
			return fsys
		},
	}
	suite.Run(t)
}

// TestS3Backend_HistoryStack checks the history decorator on object storage,
// where retention moves are copies plus deletes.
func TestS3Backend_HistoryStack(t *testing.T) {
	ctx := context.Background()
	bucketName := "fsfacade-history-test"
	client := setupTestS3(t, bucketName)

	backend, err := s3backend.New(ctx, s3backend.Config{Client: client, Bucket: bucketName})
	require.NoError(t, err)
	fsys, err := history.New(backend, history.Config{History: true, MaxRetained: 2})
	require.NoError(t, err)

	for _, text := range []string{"v1", "v2", "v3", "v4"} {
		vfstest.MustWriteString(t, fsys, "/report.txt", text)
	}

	f := vfstest.MustFile(t, fsys, "/report.txt")
	ids, err := f.HistoryTimes(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	oldest, err := f.ReadHistoryBytes(ctx, ids[0])
	require.NoError(t, err)
	require.Equal(t, "v2", string(oldest))
}

// TestS3Backend_SharedBucket verifies that two filesystems on the same
// bucket observe each other's versioned writes.
func TestS3Backend_SharedBucket(t *testing.T) {
	ctx := context.Background()
	bucketName := "fsfacade-shared-test"
	client := setupTestS3(t, bucketName)

	newFS := func() vfs.FileSystem {
		fsys, err := s3backend.New(ctx, s3backend.Config{Client: client, Bucket: bucketName, KeyPrefix: "shared/"})
		require.NoError(t, err)
		return fsys
	}
	a, b := newFS(), newFS()

	fa := vfstest.MustFile(t, a, "/counter")
	v, err := fa.WriteStringVersioned(ctx, vfs.Versioned[string]{Value: "1", Version: vfs.InitialVersion})
	require.NoError(t, err)

	fb := vfstest.MustFile(t, b, "/counter")
	_, err = fb.WriteStringVersioned(ctx, vfs.Versioned[string]{Value: "stale", Version: vfs.InitialVersion})
	vfstest.AssertCode(t, vfs.ErrVersionMismatch, err)

	_, err = fb.WriteStringVersioned(ctx, vfs.Versioned[string]{Value: "2", Version: v})
	require.NoError(t, err)
	require.Equal(t, "2", vfstest.MustReadString(t, a, "/counter"))
}
