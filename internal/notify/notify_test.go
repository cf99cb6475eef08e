package notify

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repository-reconciler/internal/model"
)

var batman = model.Record{
	OwnerAccountID: 7,
	MachineName:    "batman-repo",
	Label:          "The Batman repository",
	CanonicalURL:   "https://example.com/batman-repo.yml",
}

func TestDispatcher_FanOut(t *testing.T) {
	var got []string
	d := NewDispatcher(Func(func(_ context.Context, ev Event) {
		got = append(got, "first:"+string(ev.Action))
	}))
	d.Subscribe(Func(func(_ context.Context, ev Event) {
		got = append(got, "second:"+string(ev.Action))
	}))

	d.Notify(context.Background(), NewEvent(ActionDeleted, batman))

	assert.Equal(t, []string{"first:deleted", "second:deleted"}, got)
}

func TestNewEvent(t *testing.T) {
	a := NewEvent(ActionCreated, batman)
	b := NewEvent(ActionCreated, batman)

	assert.NotEqual(t, uuid.Nil, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.OccurredAt.IsZero())
}

func TestLogSubscriber(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	NewLogSubscriber(logger).Notify(context.Background(), NewEvent(ActionUpdated, batman))

	require.NotEmpty(t, buf.String())
	assert.Contains(t, buf.String(),
		"The repo named The Batman repository has been updated (https://example.com/batman-repo.yml). The repo is owned by account 7.")
	assert.Contains(t, buf.String(), `"machine_name":"batman-repo"`)
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() { Nop.Notify(context.Background(), NewEvent(ActionCreated, batman)) })
}
