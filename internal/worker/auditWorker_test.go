package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cradoe/lendflow/internal/lifecycle"
	"github.com/cradoe/lendflow/internal/models"
	"github.com/cradoe/lendflow/internal/testutil/memstore"
	"github.com/stretchr/testify/require"
)

func TestRecordLifecycleEvent(t *testing.T) {
	db := memstore.New()
	wk := New(&Worker{DB: db, Ctx: context.Background(), Logger: discardLogger()})

	body, err := json.Marshal(lifecycle.Message{
		ApplicationID: "app-1",
		UserID:        "user-1",
		Event:         lifecycle.EventRevertToApproved,
		From:          models.ApplicationFeePending,
		To:            models.ApplicationApproved,
		Actor:         "admin-1",
		Reason:        "hash not found",
		At:            time.Now(),
	})
	require.NoError(t, err)

	require.NoError(t, wk.recordLifecycleEvent(context.Background(), body))

	logs := db.ActivityLogs()
	require.Len(t, logs, 1)
	require.Equal(t, "admin-1", logs[0].UserID)
	require.Equal(t, models.ActivityLogApplicationEntity, logs[0].Entity)
	require.Equal(t, "app-1", logs[0].EntityId)
	require.Equal(t, "revert_to_approved: fee_pending -> approved (hash not found)", logs[0].Description)

	require.Error(t, wk.recordLifecycleEvent(context.Background(), []byte("{not json")))
	require.Error(t, wk.recordLifecycleEvent(context.Background(), []byte(`{"event":"approve"}`)))
	require.Len(t, db.ActivityLogs(), 1)
}
