package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEvent_MarshalRoundTrip(t *testing.T) {
	e := Event{
		ProjectID: "demo",
		Seq:       7,
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Actor:     Actor{Role: RoleWorker, ID: "worker-1"},
		Kind:      KindAssignmentStarted,
		Payload: map[string]any{
			FieldTaskID: "task-1",
			FieldRole:   "worker",
		},
		IdempotencyKey: "key-123",
	}

	data, err := e.Marshal()
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, e.ProjectID, got.ProjectID)
	require.Equal(t, e.Seq, got.Seq)
	require.True(t, e.Timestamp.Equal(got.Timestamp))
	require.Equal(t, e.Actor, got.Actor)
	require.Equal(t, e.Kind, got.Kind)
	require.Equal(t, "task-1", StringField(got.Payload, FieldTaskID))
	require.Equal(t, "key-123", got.IdempotencyKey)
}

func TestUnmarshal_RejectsGarbage(t *testing.T) {
	_, err := Unmarshal([]byte("{not json"))
	require.Error(t, err)
}

func TestNew_DefaultsTimestamp(t *testing.T) {
	e := New("demo", KindPlanRequested, Actor{Role: RoleHuman, ID: "alice"}, nil)
	require.False(t, e.Timestamp.IsZero())
	require.Zero(t, e.Seq, "seq is assigned by the log, not the constructor")
}

func TestRole_Valid(t *testing.T) {
	for _, r := range []Role{RolePlanner, RoleForeman, RoleWorker, RoleReviewer, RoleHuman, RoleSystem} {
		require.True(t, r.Valid(), "role %s", r)
	}
	require.False(t, Role("manager").Valid())
}

func TestIntField_AcceptsJSONNumbers(t *testing.T) {
	// After a JSON round trip numbers come back as float64.
	e := New("demo", KindAssignmentFailed, SystemActor(), map[string]any{FieldAttempt: 2})
	data, err := e.Marshal()
	require.NoError(t, err)
	got, err := Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, 2, IntField(got.Payload, FieldAttempt))
}

func TestStringField_MissingKey(t *testing.T) {
	require.Equal(t, "", StringField(nil, FieldTaskID))
	require.Equal(t, "", StringField(map[string]any{FieldTaskID: 3}, FieldTaskID))
}
