package notifierbot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/esus-pec-automation/internal/messaging/telegramclient"
	"github.com/wolfman30/esus-pec-automation/internal/observability/metrics"
	"github.com/wolfman30/esus-pec-automation/pkg/logging"
)

type sent struct {
	chatID  string
	replyTo int64
	text    string
}

// fakeClient serves batches of updates in order, then blocks until canceled.
type fakeClient struct {
	mu       sync.Mutex
	batches  [][]telegramclient.Update
	errs     []error
	offsets  []int64
	sent     []sent
	sendErr  error
	drained  chan struct{}
	isClosed bool
}

func newFakeClient(batches ...[]telegramclient.Update) *fakeClient {
	return &fakeClient{batches: batches, drained: make(chan struct{})}
}

func (f *fakeClient) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegramclient.Update, error) {
	f.mu.Lock()
	f.offsets = append(f.offsets, offset)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		f.mu.Unlock()
		return nil, err
	}
	if len(f.batches) > 0 {
		batch := f.batches[0]
		f.batches = f.batches[1:]
		f.mu.Unlock()
		return batch, nil
	}
	if !f.isClosed {
		f.isClosed = true
		close(f.drained)
	}
	f.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeClient) SendMessage(ctx context.Context, chatID, text string) (*telegramclient.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, sent{chatID: chatID, text: text})
	return &telegramclient.Message{}, nil
}

func (f *fakeClient) Reply(ctx context.Context, msg *telegramclient.Message, text string) (*telegramclient.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{chatID: "reply", replyTo: msg.MessageID, text: text})
	return &telegramclient.Message{}, nil
}

func textUpdate(id int64, text string) telegramclient.Update {
	return telegramclient.Update{
		UpdateID: id,
		Message:  &telegramclient.Message{MessageID: id * 10, Chat: telegramclient.Chat{ID: 555}, Text: text},
	}
}

var clock = func() time.Time { return time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC) }

func runUntilDrained(t *testing.T, bot *Bot, client *fakeClient) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		bot.Run(ctx)
		close(done)
	}()
	select {
	case <-client.drained:
	case <-time.After(2 * time.Second):
		t.Fatal("bot did not drain updates")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bot did not stop after cancel")
	}
}

func newTestBot(client *fakeClient) *Bot {
	return NewBot(client, "-100999", logging.New("error")).
		WithClock(clock).
		WithLocation(time.UTC).
		WithErrorPause(time.Millisecond).
		WithPollTimeout(0)
}

func TestBotAnswersStartAndRelaysUnit(t *testing.T) {
	client := newFakeClient([]telegramclient.Update{
		textUpdate(1, "/start"),
		textUpdate(2, "Centro X"),
	})
	runUntilDrained(t, newTestBot(client), client)

	require.Len(t, client.sent, 2)
	assert.Equal(t, sent{chatID: "reply", replyTo: 10, text: StartReply}, client.sent[0])
	assert.Equal(t, sent{
		chatID: "-100999",
		text:   "Notificação recebida: Automação concluída com sucesso em Centro X às 09:30:00 17/10/2026",
	}, client.sent[1])
	assert.Equal(t, []int64{0, 3}, client.offsets)
}

func TestBotIgnoresOtherCommandsAndEmptyUpdates(t *testing.T) {
	client := newFakeClient([]telegramclient.Update{
		textUpdate(7, "/help"),
		{UpdateID: 8},
		textUpdate(9, "   "),
	})
	runUntilDrained(t, newTestBot(client), client)

	assert.Empty(t, client.sent)
	assert.Equal(t, []int64{0, 10}, client.offsets)
}

func TestBotResumesAfterPollError(t *testing.T) {
	client := newFakeClient([]telegramclient.Update{textUpdate(4, "UBS Norte")})
	client.errs = []error{errors.New("connection reset"), errors.New("502")}
	reg := prometheus.NewRegistry()
	m := metrics.NewBotMetrics(reg)

	runUntilDrained(t, newTestBot(client).WithMetrics(m), client)

	require.Len(t, client.sent, 1)
	assert.Contains(t, client.sent[0].text, "UBS Norte")
	assert.Equal(t, []int64{0, 0, 0, 5}, client.offsets)

	families, err := reg.Gather()
	require.NoError(t, err)
	var pollErrors float64
	for _, f := range families {
		if f.GetName() == "esus_pec_bot_poll_errors_total" {
			pollErrors = f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, 2.0, pollErrors)
}

func TestBotRelayFailureDoesNotStopPolling(t *testing.T) {
	client := newFakeClient(
		[]telegramclient.Update{textUpdate(1, "Centro X")},
		[]telegramclient.Update{textUpdate(2, "Centro Y")},
	)
	client.sendErr = errors.New("chat not found")
	runUntilDrained(t, newTestBot(client), client)

	assert.Equal(t, []int64{0, 2, 3}, client.offsets)
}

func TestBotResumesFromRedisOffset(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	store := NewRedisOffsetStore(rdb, "")
	require.NoError(t, store.Save(context.Background(), 41))

	client := newFakeClient([]telegramclient.Update{textUpdate(41, "Centro X")})
	runUntilDrained(t, newTestBot(client).WithOffsetStore(store), client)

	assert.Equal(t, int64(41), client.offsets[0])
	got, err := mr.Get(DefaultOffsetKey)
	require.NoError(t, err)
	assert.Equal(t, "42", got)
}

func TestRedisOffsetStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()
	store := NewRedisOffsetStore(rdb, "custom:offset")

	offset, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Zero(t, offset)

	require.NoError(t, store.Save(ctx, 1234))
	offset, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), offset)

	require.NoError(t, mr.Set("custom:offset", "garbage"))
	_, err = store.Load(ctx)
	assert.Error(t, err)

	mr.Close()
	_, err = store.Load(ctx)
	assert.Error(t, err)
	assert.Error(t, store.Save(ctx, 1))
}

func TestMemoryOffsetStore(t *testing.T) {
	var store MemoryOffsetStore
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, 9))
	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(9), got)
}
