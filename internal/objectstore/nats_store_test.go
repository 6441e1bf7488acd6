// Package objectstore_test tests the NATS object store implementation.
package objectstore_test

import (
	"context"
	"testing"

	"github.com/book-expert/audiobook-service/internal/objectstore"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StartTestServer starts an in-memory NATS server for testing purposes.
func StartTestServer(t *testing.T) (*server.Server, *nats.Conn) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	t.Cleanup(func() {
		natsConnection.Close()
		natsServer.Shutdown()
	})

	return natsServer, natsConnection
}

func newTestStore(t *testing.T) *objectstore.ArtifactStore {
	t.Helper()

	_, natsConnection := StartTestServer(t)

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	store, err := objectstore.New(jetstreamContext, "test-bucket")
	require.NoError(t, err)

	return store
}

func TestArtifactStore_UploadDownload(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	key := "job-1/chapter_000.mp3"
	uploadData := []byte("compressed chapter audio")

	require.NoError(t, store.Upload(ctx, key, uploadData))

	downloadData, err := store.Download(ctx, key)
	require.NoError(t, err)
	require.Equal(t, uploadData, downloadData)
}

func TestArtifactStore_DownloadMissingKeyFails(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	_, err := store.Download(context.Background(), "never-uploaded")
	require.Error(t, err)
}

func TestArtifactStore_Exists(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	exists, err := store.Exists(ctx, "job-2/chapter_000.mp3")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Upload(ctx, "job-2/chapter_000.mp3", []byte("audio")))

	exists, err = store.Exists(ctx, "job-2/chapter_000.mp3")
	require.NoError(t, err)
	assert.True(t, exists)
}
