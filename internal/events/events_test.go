package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/baharkarakas/wallet-ledger/internal/worker"
)

func sampleTx() models.Transaction {
	return models.Transaction{
		Reference: "DEP-01J9ZQ5V7M3K8Q2W4E6R8T0Y1U",
		UserID:    "u1",
		WalletID:  uuid.New(),
		Kind:      models.TxnDeposit,
		Amount:    decimal.RequireFromString("50"),
		Currency:  models.USD,
		Status:    models.TxnCompleted,
	}
}

type fakeRedis struct {
	channel string
	payload []byte
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message any) *redis.IntCmd {
	f.channel = channel
	f.payload = message.([]byte)
	return redis.NewIntResult(1, nil)
}

func TestRedisPublisher(t *testing.T) {
	rdb := &fakeRedis{}
	p := NewRedisPublisher(rdb, "")
	e := NewEvent(sampleTx(), time.Now())

	require.NoError(t, p.Publish(context.Background(), e))
	assert.Equal(t, DefaultChannel, rdb.channel)

	var got Event
	require.NoError(t, json.Unmarshal(rdb.payload, &got))
	assert.Equal(t, "transaction.completed", got.Type)
	assert.Equal(t, e.Transaction.Reference, got.Transaction.Reference)
	assert.True(t, got.Transaction.Amount.Equal(e.Transaction.Amount))
}

type mockWriter struct{ mock.Mock }

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *mockWriter) Close() error { return m.Called().Error(0) }

func TestKafkaPublisherKeysByWallet(t *testing.T) {
	w := &mockWriter{}
	p := &KafkaPublisher{w: w}
	tx := sampleTx()

	w.On("WriteMessages", mock.Anything, mock.MatchedBy(func(msgs []kafka.Message) bool {
		return len(msgs) == 1 &&
			string(msgs[0].Key) == tx.WalletID.String() &&
			string(msgs[0].Headers[1].Value) == tx.Reference
	})).Return(nil)
	w.On("Close").Return(nil)

	require.NoError(t, p.Publish(context.Background(), NewEvent(tx, time.Now())))
	require.NoError(t, p.Close())
	w.AssertExpectations(t)
}

type recordingPublisher struct {
	mu   sync.Mutex
	got  []Event
	fail bool
}

func (r *recordingPublisher) Name() string { return "test" }
func (r *recordingPublisher) Close() error { return nil }
func (r *recordingPublisher) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("sink down")
	}
	r.got = append(r.got, e)
	return nil
}

func TestDispatcherPublishesOnPool(t *testing.T) {
	pool := worker.NewPool(2, 8)
	pub := &recordingPublisher{}
	d := NewDispatcher(pool, pub)

	d.Dispatch(sampleTx())
	failed := sampleTx()
	failed.Status = models.TxnFailed
	d.Dispatch(failed)
	pool.Stop()

	require.Len(t, pub.got, 2)
	types := []string{pub.got[0].Type, pub.got[1].Type}
	assert.ElementsMatch(t, []string{"transaction.completed", "transaction.failed"}, types)
}

func TestDispatcherSurvivesSinkAndPoolFailures(t *testing.T) {
	pool := worker.NewPool(1, 1)
	d := NewDispatcher(pool, &recordingPublisher{fail: true})
	d.Dispatch(sampleTx())
	pool.Stop()
	d.Dispatch(sampleTx()) // pool stopped: dropped with a warning
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher(slog.New(slog.NewTextHandler(&buf, nil)))
	require.NoError(t, p.Publish(context.Background(), NewEvent(sampleTx(), time.Now())))
	assert.Contains(t, buf.String(), "ref=DEP-01J9ZQ5V7M3K8Q2W4E6R8T0Y1U")
}
