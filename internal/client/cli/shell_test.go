package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shilei2024/foodai/internal/client/kv"
	"github.com/shilei2024/foodai/internal/client/models"
	"github.com/shilei2024/foodai/internal/client/outbox"
	"github.com/shilei2024/foodai/internal/client/provider"
	"github.com/shilei2024/foodai/internal/client/records"
	"github.com/shilei2024/foodai/internal/client/services"
	"github.com/shilei2024/foodai/internal/client/syncer"
)

type stubSyncer struct{ res syncer.Result }

func (s *stubSyncer) Trigger() {}
func (s *stubSyncer) RunOnce(context.Context) (syncer.Result, error) {
	return s.res, nil
}

type stubRecognizer struct{ got provider.Request }

func (s *stubRecognizer) Recognize(_ context.Context, req provider.Request) (provider.Result, error) {
	s.got = req
	return provider.Result{Name: "apple", Calories: 52}, nil
}

type shellFixture struct {
	shell *Shell
	out   *bytes.Buffer
	store *records.Store
	queue *outbox.Outbox
	rec   *stubRecognizer
	clock *clockwork.FakeClock
}

func newShell(t *testing.T, input string) *shellFixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC))
	store := records.New(kv.NewMemoryStore(), records.Options{RemoteSync: true, Clock: clock})
	queue := outbox.New(kv.NewMemoryStore(), outbox.Options{})
	rec := &stubRecognizer{}
	svc := services.NewRecordService(store, services.RecordServiceOptions{
		Outbox:     queue,
		Syncer:     &stubSyncer{res: syncer.Result{Attempted: 2, Synced: 2}},
		Recognizer: rec,
	})

	out := &bytes.Buffer{}
	online := true
	sh := NewShell(svc, Options{
		Online:   func() bool { return online },
		In:       strings.NewReader(input),
		Out:      out,
		PageSize: 2,
	})
	return &shellFixture{shell: sh, out: out, store: store, queue: queue, rec: rec, clock: clock}
}

func TestShell_AddAndList(t *testing.T) {
	f := newShell(t, "")
	ctx := context.Background()

	require.NoError(t, f.shell.Add(ctx, []string{"name=apple", "grams=120", "fresh=true"}))
	f.clock.Advance(time.Second)
	require.NoError(t, f.shell.Add(ctx, []string{"name=banana"}))
	f.clock.Advance(time.Second)
	require.NoError(t, f.shell.Add(ctx, []string{"name=cherry"}))

	res, err := f.store.List(ctx, records.ListOptions{})
	require.NoError(t, err)
	require.Len(t, res.Items, 3)
	apple := res.Items[2]
	assert.Equal(t, map[string]any{"name": "apple", "grams": float64(120), "fresh": true}, apple.Fields)

	f.out.Reset()
	require.NoError(t, f.shell.List(ctx, nil))
	out := f.out.String()
	assert.Contains(t, out, "cherry")
	assert.Contains(t, out, "banana")
	assert.NotContains(t, out, "apple")
	assert.Contains(t, out, "page 1 of 2, 3 records")

	f.out.Reset()
	require.NoError(t, f.shell.List(ctx, []string{"2"}))
	assert.Contains(t, f.out.String(), "apple")

	f.out.Reset()
	require.NoError(t, f.shell.List(ctx, []string{"-o"}))
	assert.Contains(t, f.out.String(), "apple")
	assert.NotContains(t, f.out.String(), "cherry")

	assert.ErrorIs(t, f.shell.List(ctx, []string{"zero"}), ErrUsage)
}

func TestShell_AddInteractive(t *testing.T) {
	f := newShell(t, "name=green apple\ncalories=52\n\n")

	require.NoError(t, f.shell.Add(context.Background(), nil))

	res, err := f.store.List(context.Background(), records.ListOptions{})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "green apple", res.Items[0].Fields["name"])
	assert.Equal(t, float64(52), res.Items[0].Fields["calories"])
}

func TestShell_AddRejectsMalformedFields(t *testing.T) {
	f := newShell(t, "")
	assert.ErrorIs(t, f.shell.Add(context.Background(), []string{"apple"}), ErrUsage)
	assert.ErrorIs(t, f.shell.Add(context.Background(), []string{"=x"}), ErrUsage)
}

func TestShell_UpdateShowDelete(t *testing.T) {
	f := newShell(t, "")
	ctx := context.Background()

	require.NoError(t, f.shell.Add(ctx, []string{"name=apple", "note=raw"}))
	res, err := f.store.List(ctx, records.ListOptions{})
	require.NoError(t, err)
	id := res.Items[0].LocalID

	require.NoError(t, f.shell.Update(ctx, []string{id, "grams=80", "note="}))
	rec, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "apple", "grams": float64(80)}, rec.Fields)

	f.out.Reset()
	require.NoError(t, f.shell.Show(ctx, []string{id}))
	assert.Contains(t, f.out.String(), `"localId": "`+id+`"`)

	require.NoError(t, f.shell.Delete(ctx, []string{id}))
	n, err := f.store.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	items, err := f.queue.List(ctx)
	require.NoError(t, err)
	ops := make([]models.Operation, 0, len(items))
	for _, it := range items {
		ops = append(ops, it.Operation)
	}
	assert.Equal(t, []models.Operation{models.OperationAdd, models.OperationUpdate, models.OperationDelete}, ops)

	assert.ErrorIs(t, f.shell.Update(ctx, []string{id}), ErrUsage)
	assert.ErrorIs(t, f.shell.Show(ctx, nil), ErrUsage)
	assert.ErrorIs(t, f.shell.Delete(ctx, nil), ErrUsage)
}

func TestShell_ClearAsksForConfirmation(t *testing.T) {
	f := newShell(t, "n\nyes\n")
	ctx := context.Background()
	require.NoError(t, f.shell.Add(ctx, []string{"name=apple"}))

	require.NoError(t, f.shell.Clear(ctx, nil))
	assert.Contains(t, f.out.String(), "Cancelled")
	n, _ := f.store.Size(ctx)
	assert.Equal(t, 1, n)

	require.NoError(t, f.shell.Clear(ctx, nil))
	assert.Contains(t, f.out.String(), "Deleted 1 records")
	n, _ = f.store.Size(ctx)
	assert.Zero(t, n)

	require.NoError(t, f.shell.Add(ctx, []string{"name=pear"}))
	require.NoError(t, f.shell.Clear(ctx, []string{"-y"}))
	n, _ = f.store.Size(ctx)
	assert.Zero(t, n)
}

func TestShell_Recognize(t *testing.T) {
	f := newShell(t, "")
	ctx := context.Background()

	img := filepath.Join(t.TempDir(), "meal.png")
	require.NoError(t, os.WriteFile(img, []byte("\x89PNG\r\n\x1a\nrest"), 0o600))

	require.NoError(t, f.shell.Recognize(ctx, []string{"-f", img, "green", "apple"}))
	assert.Equal(t, "green apple", f.rec.got.Text)
	assert.Equal(t, "image/png", f.rec.got.ImageType)
	assert.Contains(t, f.out.String(), "Recognized apple (52 kcal)")

	assert.ErrorIs(t, f.shell.Recognize(ctx, nil), ErrUsage)
}

func TestShell_SyncStatusRetry(t *testing.T) {
	f := newShell(t, "")
	ctx := context.Background()
	require.NoError(t, f.shell.Add(ctx, []string{"name=apple"}))

	require.NoError(t, f.shell.Sync(ctx, nil))
	assert.Contains(t, f.out.String(), "Synced 2, failed 0")

	require.NoError(t, f.shell.Status(ctx, nil))
	assert.Contains(t, f.out.String(), "Records: 1 of 100, 1 not synced")
	assert.Contains(t, f.out.String(), "Queue: 1 pending, 0 synced, 0 failed")

	require.NoError(t, f.shell.Retry(ctx, nil))
	assert.Contains(t, f.out.String(), "Requeued 0 failed mutations")
}

func TestShell_RunUntilExit(t *testing.T) {
	f := newShell(t, "add name=apple\nbogus\nexit\nadd name=never\n")

	require.NoError(t, f.shell.Run(context.Background()))
	n, err := f.store.Size(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	out := f.out.String()
	assert.Contains(t, out, "Welcome to FoodAI")
	assert.Contains(t, out, "foodai (online)> ")
	assert.Contains(t, out, "Unknown command: bogus")
	assert.Contains(t, out, "Bye!")
}

func TestShell_Prompt(t *testing.T) {
	sh := NewShell(nil, Options{In: strings.NewReader(""), Out: &bytes.Buffer{}})
	assert.Equal(t, "(local)", sh.prompt())

	online := false
	sh.online = func() bool { return online }
	assert.Equal(t, "(offline)", sh.prompt())
	online = true
	assert.Equal(t, "(online)", sh.prompt())
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, float64(1.5), parseValue("1.5", false))
	assert.Equal(t, true, parseValue("true", false))
	assert.Equal(t, "t", parseValue("t", false))
	assert.Equal(t, "", parseValue("", false))
	assert.Nil(t, parseValue("", true))
}
