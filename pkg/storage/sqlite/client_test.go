package sqlite_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/tagprofile-go/pkg/storage"
	"github.com/oceanbase/tagprofile-go/pkg/storage/sqlite"
	"github.com/oceanbase/tagprofile-go/pkg/storage/storagetest"
	"github.com/oceanbase/tagprofile-go/pkg/tag"
)

func setupSQLite(t *testing.T) *sqlite.Client {
	t.Helper()
	client, err := sqlite.NewClient(context.Background(), &sqlite.Config{
		DBPath:      filepath.Join(t.TempDir(), "data", "tagprofile.db"),
		TablePrefix: "test",
	}, nil)
	require.NoError(t, err)
	return client
}

func TestSQLiteRepository(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Repository {
		return setupSQLite(t)
	})
}

func TestSQLiteCorruptLogDegradesToEmpty(t *testing.T) {
	ctx := context.Background()
	client := setupSQLite(t)
	defer func() { _ = client.Close() }()

	require.NoError(t, client.Commit(ctx, &storage.Commit{
		UserID:  "u1",
		TagLogs: []*tag.TagLog{storagetest.NewTagLog("乐观")},
	}))
	_, err := client.DB().ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET triggers = ? WHERE user_id = ?`, "test_tag_logs"), "{not json", "u1")
	require.NoError(t, err)

	l, err := client.LoadTagLog(ctx, "u1", "乐观")
	require.NoError(t, err)
	assert.Empty(t, l.Triggers)
	// the undamaged parts survive
	assert.Len(t, l.History, 1)
	assert.Len(t, l.Evidence, 1)
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tagprofile.db")

	client, err := sqlite.NewClient(ctx, &sqlite.Config{DBPath: path}, nil)
	require.NoError(t, err)
	require.NoError(t, client.Commit(ctx, &storage.Commit{UserID: "u1", Profile: storagetest.NewProfile("u1")}))
	require.NoError(t, client.Close())

	client, err = sqlite.NewClient(ctx, &sqlite.Config{DBPath: path}, nil)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	p, err := client.LoadProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Version)
}
