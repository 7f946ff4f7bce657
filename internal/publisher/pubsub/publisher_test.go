package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/neorise/storefront/internal/car"
)

func newTestClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestPublishSendsJSONWithKind(t *testing.T) {
	ctx := context.Background()
	client, srv := newTestClient(t)
	_, err := client.CreateTopic(ctx, "car-changes")
	require.NoError(t, err)

	pub, err := New(client)
	require.NoError(t, err)
	defer pub.Stop()

	ev := car.ChangeEvent{
		Kind:    car.ChangeIngested,
		CarID:   "c1",
		StockNo: "ABC-123",
		At:      time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	id, err := pub.Publish(ctx, "car-changes", ev)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "car.ingested", msgs[0].Attributes["kind"])

	var got car.ChangeEvent
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, ev, got)
}

func TestPublishValidatesInput(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)

	client, _ := newTestClient(t)
	pub, err := New(client)
	require.NoError(t, err)
	_, err = pub.Publish(context.Background(), "", "x")
	require.ErrorContains(t, err, "topic name is required")
	_, err = pub.Publish(context.Background(), "t", func() {})
	require.ErrorContains(t, err, "marshal payload")
}
