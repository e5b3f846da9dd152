package database

import (
	"context"
	"testing"
	"time"

	"messhall/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncQueue(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	task := &models.SyncTask{TaskType: "upsert", BookingID: 100, Payload: `{"id":100}`}
	require.NoError(t, db.CreateSyncTask(ctx, task))
	assert.Equal(t, models.SyncTaskPending, task.Status)

	tasks, err := db.GetPendingSyncTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, int64(100), tasks[0].BookingID)

	t.Run("RetryInFutureIsNotDue", func(t *testing.T) {
		next := time.Now().Add(time.Hour)
		require.NoError(t, db.UpdateSyncTaskStatus(ctx, task.ID, models.SyncTaskRetry, "sheet busy", &next))
		tasks, err := db.GetPendingSyncTasks(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, tasks)
	})

	t.Run("DeadLetterAndRequeue", func(t *testing.T) {
		require.NoError(t, db.UpdateSyncTaskStatus(ctx, task.ID, models.SyncTaskFailed, "gave up", nil))
		failed, err := db.GetFailedSyncTasks(ctx)
		require.NoError(t, err)
		require.Len(t, failed, 1)
		require.NotNil(t, failed[0].LastError)
		assert.Equal(t, "gave up", *failed[0].LastError)
		assert.NotNil(t, failed[0].ProcessedAt)

		n, err := db.RequeueFailedSyncTasks(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		tasks, err := db.GetPendingSyncTasks(ctx, 10)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, 0, tasks[0].RetryCount)
	})
}
