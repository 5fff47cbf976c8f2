package database

import (
	"context"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"videorag/internal/models"
)

// setupTestDB starts a pgvector-enabled Postgres container, applies the
// project's migrations against it, and returns a connected DB. The
// container is shared across the package's integration tests (started
// once, like the teacher's shared-testcontainer pattern) since spinning up
// Postgres per test case is the dominant cost in this suite.
var (
	sharedDB     *DB
	sharedDBOnce sync.Once
	sharedDBErr  error
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	sharedDBOnce.Do(func() {
		ctx := context.Background()

		pgContainer, err := postgres.Run(ctx,
			"pgvector/pgvector:pg16",
			postgres.WithDatabase("videorag_test"),
			postgres.WithUsername("videorag"),
			postgres.WithPassword("videorag"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
		if err != nil {
			sharedDBErr = err
			return
		}

		connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			sharedDBErr = err
			return
		}

		db, err := New(connStr)
		if err != nil {
			sharedDBErr = err
			return
		}
		if err := db.Migrate(connStr, migrationsDir()); err != nil {
			sharedDBErr = err
			return
		}
		sharedDB = db
	})

	require.NoError(t, sharedDBErr, "failed to set up shared postgres testcontainer")
	return sharedDB
}

// migrationsDir resolves the repository's migrations/ directory relative to
// this source file, so the test works regardless of the working directory
// go test is invoked from.
func migrationsDir() string {
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		panic("migrationsDir: runtime.Caller(0) failed")
	}
	return filepath.Join(filepath.Dir(thisFile), "..", "..", "migrations")
}

// truncateAll clears every table between test cases so each test starts from
// an empty schema without paying the container-startup cost again.
func truncateAll(t *testing.T, db *DB) {
	t.Helper()
	_, err := db.Exec(`TRUNCATE TABLE tasks, task_transitions, chunks, segments, videos, channels,
		chat_messages, chat_videos, chat_sessions, settings RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
}

func seedPendingTask(t *testing.T, store *TaskStore) *models.Task {
	t.Helper()
	task, err := store.Enqueue(context.Background(), models.TaskTypePipeline,
		[]byte(`{"channel_url":"https://www.youtube.com/@example"}`))
	require.NoError(t, err)
	return task
}

// TestClaimOne_ExactlyOneWinnerUnderConcurrency exercises the claim-race
// property: pre-seed one pending task, fire two concurrent ClaimOne calls,
// and require that exactly one of them returns the task while the other
// observes no work available, with the task ending up running.
func TestClaimOne_ExactlyOneWinnerUnderConcurrency(t *testing.T) {
	db := setupTestDB(t)
	truncateAll(t, db)
	store := NewTaskStore(db)

	seeded := seedPendingTask(t, store)

	var wg sync.WaitGroup
	results := make([]*models.Task, 2)
	errs := make([]error, 2)
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = store.ClaimOne(context.Background())
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	var winners int
	var winner *models.Task
	for _, r := range results {
		if r != nil {
			winners++
			winner = r
		}
	}
	require.Equal(t, 1, winners, "exactly one concurrent ClaimOne call should win the race")
	require.Equal(t, seeded.ID, winner.ID)
	require.Equal(t, models.TaskStatusRunning, winner.Status)

	fetched, err := store.Get(context.Background(), seeded.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusRunning, fetched.Status)
}

// TestClaimOne_NoPendingTasksReturnsNil covers the empty-queue path: no rows
// to lock, ClaimOne returns (nil, nil) rather than an error.
func TestClaimOne_NoPendingTasksReturnsNil(t *testing.T) {
	db := setupTestDB(t)
	truncateAll(t, db)
	store := NewTaskStore(db)

	task, err := store.ClaimOne(context.Background())
	require.NoError(t, err)
	require.Nil(t, task)
}

// TestResetStuck_FailsRunningTasksWithWorkerRestartedReason covers the
// recovery scenario: a task left in status=running (as if the worker that
// claimed it crashed mid-run) is transitioned to failed with a fixed
// error_message on the next boot's ResetStuck call.
func TestResetStuck_FailsRunningTasksWithWorkerRestartedReason(t *testing.T) {
	db := setupTestDB(t)
	truncateAll(t, db)
	store := NewTaskStore(db)

	seeded := seedPendingTask(t, store)
	claimed, err := store.ClaimOne(context.Background())
	require.NoError(t, err)
	require.Equal(t, seeded.ID, claimed.ID)

	n, err := store.ResetStuck(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	fetched, err := store.Get(context.Background(), seeded.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusFailed, fetched.Status)
	require.NotNil(t, fetched.ErrorMessage)
	require.Equal(t, "worker restarted", *fetched.ErrorMessage)
	require.NotNil(t, fetched.CompletedAt)
}

// TestTaskLifecycle_TransitionsAreStrictlyOrdered covers the round-trip
// status-ordering invariant: enqueue, claim, complete produces exactly the
// transition sequence pending->running->completed in the audit trail.
func TestTaskLifecycle_TransitionsAreStrictlyOrdered(t *testing.T) {
	db := setupTestDB(t)
	truncateAll(t, db)
	store := NewTaskStore(db)

	seeded := seedPendingTask(t, store)
	claimed, err := store.ClaimOne(context.Background())
	require.NoError(t, err)
	require.Equal(t, seeded.ID, claimed.ID)

	result := "done"
	require.NoError(t, store.Complete(context.Background(), seeded.ID, &result))

	transitions, err := store.ListTransitions(context.Background(), seeded.ID)
	require.NoError(t, err)
	require.Len(t, transitions, 2)

	require.NotNil(t, transitions[0].FromStatus)
	require.Equal(t, models.TaskStatusPending, *transitions[0].FromStatus)
	require.Equal(t, models.TaskStatusRunning, transitions[0].ToStatus)
	require.NotNil(t, transitions[1].FromStatus)
	require.Equal(t, models.TaskStatusRunning, *transitions[1].FromStatus)
	require.Equal(t, models.TaskStatusCompleted, transitions[1].ToStatus)
	require.True(t, transitions[0].CreatedAt.Before(transitions[1].CreatedAt) ||
		transitions[0].CreatedAt.Equal(transitions[1].CreatedAt))

	fetched, err := store.Get(context.Background(), seeded.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusCompleted, fetched.Status)
	require.Equal(t, 100, fetched.Progress)
	require.NotNil(t, fetched.CompletedAt)
}

// TestTaskLifecycle_FailedPathRecordsReason mirrors the completed-path test
// for the failed terminal state, since both are reachable from running.
func TestTaskLifecycle_FailedPathRecordsReason(t *testing.T) {
	db := setupTestDB(t)
	truncateAll(t, db)
	store := NewTaskStore(db)

	seeded := seedPendingTask(t, store)
	_, err := store.ClaimOne(context.Background())
	require.NoError(t, err)

	require.NoError(t, store.Fail(context.Background(), seeded.ID, "stt service unreachable"))

	transitions, err := store.ListTransitions(context.Background(), seeded.ID)
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	require.Equal(t, models.TaskStatusFailed, transitions[1].ToStatus)
	require.NotNil(t, transitions[1].Reason)
	require.Equal(t, "stt service unreachable", *transitions[1].Reason)
}
