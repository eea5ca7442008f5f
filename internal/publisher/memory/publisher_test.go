package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type routed struct{ id string }

func (r routed) Attributes() map[string]string { return map[string]string{"audit_id": r.id} }

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "audits", routed{id: "a1"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "other", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "audits", msgs[0].Topic)
	require.Equal(t, map[string]string{"audit_id": "a1"}, msgs[0].Attributes)
	require.Nil(t, msgs[1].Attributes)

	msgs[0].Topic = "modified"
	require.Equal(t, "audits", pub.Messages()[0].Topic)
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	boom := errors.New("unavailable")
	pub.FailWith(boom)
	_, err := pub.Publish(context.Background(), "audits", "x")
	require.ErrorIs(t, err, boom)
	require.Empty(t, pub.Messages())

	pub.FailWith(nil)
	_, err = pub.Publish(context.Background(), "audits", "x")
	require.NoError(t, err)
	require.Len(t, pub.Messages(), 1)
}
