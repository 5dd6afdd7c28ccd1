package export

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arlden/pdf-exporter/engine"
	"github.com/arlden/pdf-exporter/gate"
	"github.com/arlden/pdf-exporter/markup"
	"github.com/arlden/pdf-exporter/queue"
	"github.com/arlden/pdf-exporter/usage"
)

// fakeEngine records render calls and can be told to fail.
type fakeEngine struct {
	renders []renderCall
	err     error
}

type renderCall struct {
	html     string
	filePath string
}

func (f *fakeEngine) Render(ctx context.Context, html, filePath string) error {
	f.renders = append(f.renders, renderCall{html: html, filePath: filePath})
	return f.err
}

func (f *fakeEngine) Close() error          { return nil }
func (f *fakeEngine) Done() <-chan struct{} { return nil }

// fakePool hands out a fixed engine, or fails acquisition.
type fakePool struct {
	engine *fakeEngine
	err    error
}

func (f *fakePool) Acquire(ctx context.Context) (engine.Engine, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.engine, nil
}

type fixture struct {
	svc    *Service
	ledger *usage.Ledger
	eng    *fakeEngine
	pool   *fakePool
	q      *queue.Queue
}

func newFixture(t *testing.T, limits gate.Limits) *fixture {
	t.Helper()

	ledger := usage.NewLedger()
	q := queue.New()
	t.Cleanup(q.Close)

	eng := &fakeEngine{}
	pool := &fakePool{engine: eng}

	svc := New(
		Config{OutDir: t.TempDir(), PublicBaseURL: "https://pdf.example.com"},
		Deps{
			Sanitizer: markup.NewSanitizer(),
			Gate:      gate.New(ledger, limits),
			Ledger:    ledger,
			Queue:     q,
			Engines:   pool,
		},
	)
	svc.newID = newSequentialID()

	return &fixture{svc: svc, ledger: ledger, eng: eng, pool: pool, q: q}
}

func newSequentialID() func() string {
	n := 0
	return func() string {
		n++
		return "id" + string(rune('0'+n))
	}
}

func TestExportSuccess(t *testing.T) {
	t.Parallel()

	f := newFixture(t, gate.Limits{MaxChars: 1500, MaxExports: 3})

	res, err := f.svc.Export(context.Background(), Request{
		RawText:  "# Hello\n\nSome text.",
		Preset:   "notes",
		ClientID: "client-a",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Receipt)
	require.Nil(t, res.Denial)

	require.Equal(t, "notes", res.Receipt.Preset)
	require.Equal(t, "notes-id1.pdf", res.Receipt.FileName)
	require.Equal(t, "https://pdf.example.com/downloads/notes-id1.pdf", res.Receipt.DownloadURL)
	require.Equal(t, 2, res.Receipt.Remaining)

	require.Len(t, f.eng.renders, 1)
	require.Contains(t, f.eng.renders[0].html, "<h1>Notes</h1>")
	require.Contains(t, f.eng.renders[0].html, "Some text.")
	require.True(t, strings.HasSuffix(f.eng.renders[0].filePath, "notes-id1.pdf"))
}

func TestExportNormalizesPresetAndClient(t *testing.T) {
	t.Parallel()

	f := newFixture(t, gate.Limits{MaxChars: 1500, MaxExports: 3})

	res, err := f.svc.Export(context.Background(), Request{RawText: "text", Preset: "banana"})
	require.NoError(t, err)
	require.Equal(t, "report", res.Receipt.Preset)

	// The anonymous bucket was charged.
	require.Equal(t, 2, f.ledger.Remaining(DefaultClientBucket, 3))
}

func TestExportEmptyTextIsValidationError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, gate.Limits{MaxChars: 1500, MaxExports: 3})

	_, err := f.svc.Export(context.Background(), Request{RawText: "   "})
	require.ErrorIs(t, err, ErrEmptyText)
	require.Empty(t, f.eng.renders)
	require.Equal(t, 3, f.ledger.Remaining(DefaultClientBucket, 3))
}

func TestExportLengthDenial(t *testing.T) {
	t.Parallel()

	f := newFixture(t, gate.Limits{MaxChars: 10, MaxExports: 3})

	res, err := f.svc.Export(context.Background(), Request{
		RawText:  strings.Repeat("x", 15),
		ClientID: "client-a",
	})
	require.NoError(t, err)
	require.Nil(t, res.Receipt)
	require.NotNil(t, res.Denial)
	require.Equal(t, gate.ReasonLength, res.Denial.Reason)
	require.Equal(t, 5, res.Denial.OverBy)
	require.Equal(t, 3, res.Denial.Remaining)

	// Denied requests never reach the engine and never consume quota.
	require.Empty(t, f.eng.renders)
	require.Equal(t, 3, f.ledger.Remaining("client-a", 3))
}

func TestExportQuotaDenialAfterExhaustion(t *testing.T) {
	t.Parallel()

	f := newFixture(t, gate.Limits{MaxChars: 1500, MaxExports: 3})

	for range 3 {
		res, err := f.svc.Export(context.Background(), Request{RawText: "text", ClientID: "client-a"})
		require.NoError(t, err)
		require.NotNil(t, res.Receipt)
	}
	require.Equal(t, 0, f.ledger.Remaining("client-a", 3))

	res, err := f.svc.Export(context.Background(), Request{RawText: "text", ClientID: "client-a"})
	require.NoError(t, err)
	require.NotNil(t, res.Denial)
	require.Equal(t, gate.ReasonQuota, res.Denial.Reason)
	require.Len(t, f.eng.renders, 3)
}

// Exactly-once consumption: N successes consume N, a failure consumes none.
func TestExportFailedRenderDoesNotConsumeQuota(t *testing.T) {
	t.Parallel()

	f := newFixture(t, gate.Limits{MaxChars: 1500, MaxExports: 3})

	res, err := f.svc.Export(context.Background(), Request{RawText: "text", ClientID: "client-a"})
	require.NoError(t, err)
	require.NotNil(t, res.Receipt)
	require.Equal(t, 2, f.ledger.Remaining("client-a", 3))

	f.eng.err = errors.New("engine crashed mid-render")
	_, err = f.svc.Export(context.Background(), Request{RawText: "text", ClientID: "client-a"})
	require.Error(t, err)
	require.Equal(t, 2, f.ledger.Remaining("client-a", 3))

	f.eng.err = nil
	res, err = f.svc.Export(context.Background(), Request{RawText: "text", ClientID: "client-a"})
	require.NoError(t, err)
	require.Equal(t, 1, res.Receipt.Remaining)
}

func TestExportEngineStartFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, gate.Limits{MaxChars: 1500, MaxExports: 3})
	f.pool.err = engine.ErrEngineStart

	_, err := f.svc.Export(context.Background(), Request{RawText: "text", ClientID: "client-a"})
	require.ErrorIs(t, err, engine.ErrEngineStart)
	require.Equal(t, 3, f.ledger.Remaining("client-a", 3))
}

func TestExportSanitizesHostileInput(t *testing.T) {
	t.Parallel()

	f := newFixture(t, gate.Limits{MaxChars: 1500, MaxExports: 3})

	_, err := f.svc.Export(context.Background(), Request{
		RawText:  `hello <script>alert(1)</script> [x](javascript:alert(2))`,
		ClientID: "client-a",
	})
	require.NoError(t, err)
	require.Len(t, f.eng.renders, 1)
	require.NotContains(t, f.eng.renders[0].html, "<script")
	require.NotContains(t, f.eng.renders[0].html, "javascript:")
}

func TestRemainingSnapshot(t *testing.T) {
	t.Parallel()

	f := newFixture(t, gate.Limits{MaxChars: 1500, MaxExports: 3})

	require.Equal(t, 3, f.svc.Remaining("client-a"))
	require.Equal(t, 3, f.svc.Remaining("")) // anonymous bucket

	_, err := f.svc.Export(context.Background(), Request{RawText: "text", ClientID: "client-a"})
	require.NoError(t, err)
	require.Equal(t, 2, f.svc.Remaining("client-a"))
}
