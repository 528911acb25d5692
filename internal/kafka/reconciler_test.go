package kafka

import (
	"context"
	"errors"
	"testing"

	topics "go-kafkaguard/config/kafka"
	"go-kafkaguard/internal/observability"
	pkg "go-kafkaguard/pkg/kafka"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReconciler(admin Admin, desired []topics.TopicSpec) (*Reconciler, *observability.InMemoryMetrics) {
	metrics := observability.NewInMemoryMetrics()
	return NewReconciler(admin, desired, observability.NewDiscardLogger(), metrics), metrics
}

func TestReconciler_CreatesMissingTopic(t *testing.T) {
	admin := NewMockAdmin(2, "Other")
	r, metrics := newTestReconciler(admin, []topics.TopicSpec{
		{Name: "UserSignup", Partitions: 3, ReplicationFactor: 2},
	})

	created, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"UserSignup"}, created)

	require.Len(t, admin.CreateCalls, 1)
	require.Len(t, admin.CreateCalls[0], 1)
	assert.Equal(t, []bool{true}, admin.WaitedLeader)

	topic, ok := admin.Topic("UserSignup")
	require.True(t, ok)
	assert.Equal(t, 3, topic.NumPartitions)
	assert.Equal(t, 2, topic.ReplicationFactor)

	_, ok = admin.Topic("Other")
	assert.True(t, ok)
	assert.Empty(t, admin.DeleteCalls)
	assert.Equal(t, int64(1), metrics.GetTopicsCreated())
}

func TestReconciler_ClampsReplicationFactor(t *testing.T) {
	admin := NewMockAdmin(3)
	r, _ := newTestReconciler(admin, []topics.TopicSpec{
		{Name: "UserSignup", Partitions: 1, ReplicationFactor: 5},
	})

	_, err := r.Reconcile(context.Background())
	require.NoError(t, err)

	topic, ok := admin.Topic("UserSignup")
	require.True(t, ok)
	assert.Equal(t, 3, topic.ReplicationFactor)
}

func TestReconciler_Idempotent(t *testing.T) {
	admin := NewMockAdmin(3, "Other")
	desired := topics.Expand([]topics.TopicSpec{
		{Name: "UserSignup", Partitions: 3, ReplicationFactor: 3, Reply: true},
	}, true)
	r, _ := newTestReconciler(admin, desired)

	first, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"UserSignup", "UserSignupDLQ", "UserSignup.reply"}, first)

	before, err := admin.ListTopics(context.Background())
	require.NoError(t, err)

	second, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Empty(t, second)
	assert.Len(t, admin.CreateCalls, 1)

	after, err := admin.ListTopics(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, before, after)
}

func TestReconciler_DuplicateDesiredTopicsCreatedOnce(t *testing.T) {
	admin := NewMockAdmin(1)
	r, _ := newTestReconciler(admin, []topics.TopicSpec{
		{Name: "UserSignup", Partitions: 1, ReplicationFactor: 1},
		{Name: "UserSignup", Partitions: 1, ReplicationFactor: 1},
	})

	created, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"UserSignup"}, created)
}

func TestReconciler_IgnoresInternalTopics(t *testing.T) {
	admin := NewMockAdmin(1, "__consumer_offsets")
	r, _ := newTestReconciler(admin, []topics.TopicSpec{
		{Name: "__consumer_offsets", Partitions: 1, ReplicationFactor: 1},
	})

	current, err := r.currentTopics(context.Background())
	require.NoError(t, err)
	assert.Empty(t, current)
}

func TestReconciler_ListFailureIsFatal(t *testing.T) {
	admin := NewMockAdmin(1)
	admin.ListErr = errors.New("broker unreachable")
	r, _ := newTestReconciler(admin, []topics.TopicSpec{{Name: "UserSignup", Partitions: 1, ReplicationFactor: 1}})

	_, err := r.Reconcile(context.Background())
	require.Error(t, err)

	var re *pkg.ReconciliationError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "list", re.Stage)
	assert.Empty(t, admin.CreateCalls)
}

func TestReconciler_CreateFailureIsFatal(t *testing.T) {
	admin := NewMockAdmin(1)
	admin.CreateErr = errors.New("policy violation")
	r, metrics := newTestReconciler(admin, []topics.TopicSpec{{Name: "UserSignup", Partitions: 1, ReplicationFactor: 1}})

	_, err := r.Reconcile(context.Background())
	require.Error(t, err)

	var re *pkg.ReconciliationError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "create", re.Stage)
	assert.Equal(t, "reconciliation", pkg.ErrorKind(err))
	assert.Len(t, admin.CreateCalls, 1)
	assert.Equal(t, int64(0), metrics.GetTopicsCreated())
}

func TestReconciler_Delete(t *testing.T) {
	admin := NewMockAdmin(1, "UserSignup", "Other")
	r, _ := newTestReconciler(admin, []topics.TopicSpec{
		{Name: "UserSignup", Partitions: 1, ReplicationFactor: 1},
		{Name: "Missing", Partitions: 1, ReplicationFactor: 1},
	})

	deleted, err := r.Delete(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"UserSignup"}, deleted)

	_, ok := admin.Topic("UserSignup")
	assert.False(t, ok)
	_, ok = admin.Topic("Other")
	assert.True(t, ok)

	deleted, err = r.Delete(context.Background())
	require.NoError(t, err)
	assert.Empty(t, deleted)
	assert.Len(t, admin.DeleteCalls, 1)
}

func TestEnsureTopics(t *testing.T) {
	desired := []topics.TopicSpec{{Name: "UserSignup", Partitions: 1, ReplicationFactor: 1}}

	delegated := NewMockAdmin(1)
	require.NoError(t, EnsureTopics(context.Background(), delegated, desired, true, observability.NewDiscardLogger(), nil))
	assert.Empty(t, delegated.CreateCalls)

	managed := NewMockAdmin(1)
	require.NoError(t, EnsureTopics(context.Background(), managed, desired, false, observability.NewDiscardLogger(), nil))
	_, ok := managed.Topic("UserSignup")
	assert.True(t, ok)
}
