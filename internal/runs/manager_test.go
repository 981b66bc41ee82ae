package runs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/tabimport/internal/core"
	_ "github.com/JonMunkholm/tabimport/internal/core/entities"
	"github.com/JonMunkholm/tabimport/internal/source"
)

type memCollection struct {
	records map[core.Kind][]core.Record
	err     error
}

func (c *memCollection) LoadRecords(_ context.Context, kind core.Kind) ([]core.Record, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.records[kind], nil
}

// gatedSink blocks every write until release is closed.
type gatedSink struct {
	release chan struct{}

	mu      sync.Mutex
	written []string
}

func (s *gatedSink) Upsert(ctx context.Context, rec core.Record) error {
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	s.written = append(s.written, rec.Base().ID)
	s.mu.Unlock()
	return nil
}

type countingTracker struct {
	mu              sync.Mutex
	started, closed int
}

func (c *countingTracker) RunStarted()  { c.mu.Lock(); c.started++; c.mu.Unlock() }
func (c *countingTracker) RunFinished() { c.mu.Lock(); c.closed++; c.mu.Unlock() }

func ticketCSV(lines ...string) core.RowSource {
	body := "Folio,Title,Proyecto,Monto\n" + strings.Join(lines, "\n") + "\n"
	return source.NewFile("tickets.csv", strings.NewReader(body))
}

func testManager(collection Collection, opts ...core.Option) *Manager {
	return NewManager(Config{MaxConcurrent: 2, MaxWait: 50 * time.Millisecond, ChunkDelay: 0},
		Deps{Records: collection, Importer: opts})
}

func TestManager_Run(t *testing.T) {
	collection := &memCollection{records: map[core.Kind][]core.Record{
		core.KindProject: {&core.Project{Meta: core.Meta{ID: "prj-1"}, Name: "Casa Lopez"}},
		core.KindTicket: {&core.Ticket{
			Meta:  core.Meta{ID: "tkt-CO-1", ExternalRef: "CO-1", CreatedAt: time.Now()},
			Title: "Old title",
		}},
	}}
	tracker := &countingTracker{}
	m := NewManager(Config{}, Deps{Records: collection, Tracker: tracker})

	res, err := m.Run(context.Background(), core.ImportRequest{
		Kind:   core.KindTicket,
		Source: ticketCSV("CO-1,New title,casa lopez,100", "CO-2,Extra outlet,,90"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 1, res.Updated)

	byID := map[string]*core.Ticket{}
	for _, r := range res.Records {
		byID[r.Base().ID] = r.(*core.Ticket)
	}
	assert.Equal(t, "New title", byID["tkt-CO-1"].Title)
	assert.Equal(t, "prj-1", byID["tkt-CO-1"].ProjectID)

	p, err := m.Progress(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, core.PhaseComplete, p.Phase)

	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	assert.Equal(t, 1, tracker.started)
	assert.Equal(t, 1, tracker.closed)
}

func TestManager_OneRunPerKind(t *testing.T) {
	sink := &gatedSink{release: make(chan struct{})}
	m := testManager(nil, core.WithSink(sink))
	ctx := context.Background()

	id, err := m.Start(ctx, core.ImportRequest{Kind: core.KindTicket, Source: ticketCSV("CO-1,A,,1")})
	require.NoError(t, err)

	running, ok := m.Running(core.KindTicket)
	assert.True(t, ok)
	assert.Equal(t, id, running)

	_, err = m.Start(ctx, core.ImportRequest{Kind: core.KindTicket, Source: ticketCSV("CO-2,B,,1")})
	assert.ErrorIs(t, err, ErrImportRunning)
	assert.Equal(t, "IMP002", core.MapError(err).Code)

	// Another kind is not blocked.
	leads := source.NewFile("leads.csv", strings.NewReader("Name,Email\nAna,ana@example.com\n"))
	other, err := m.Start(ctx, core.ImportRequest{Kind: core.KindLead, Source: leads})
	require.NoError(t, err)

	close(sink.release)
	res, err := m.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
	_, err = m.Wait(ctx, other)
	require.NoError(t, err)

	_, ok = m.Running(core.KindTicket)
	assert.False(t, ok)
	assert.Equal(t, 0, m.Status().Active)
}

func TestManager_TooManyImports(t *testing.T) {
	sink := &gatedSink{release: make(chan struct{})}
	m := NewManager(Config{MaxConcurrent: 1, MaxWait: 20 * time.Millisecond}, Deps{Importer: []core.Option{core.WithSink(sink)}})
	ctx := context.Background()

	id, err := m.Start(ctx, core.ImportRequest{Kind: core.KindTicket, Source: ticketCSV("CO-1,A,,1")})
	require.NoError(t, err)

	leads := source.NewFile("leads.csv", strings.NewReader("Name\nAna\n"))
	_, err = m.Start(ctx, core.ImportRequest{Kind: core.KindLead, Source: leads})
	assert.ErrorIs(t, err, ErrTooManyImports)
	assert.Equal(t, "UPL001", core.MapError(err).Code)

	close(sink.release)
	_, err = m.Wait(ctx, id)
	require.NoError(t, err)
}

func TestManager_Cancel(t *testing.T) {
	sink := &gatedSink{release: make(chan struct{})}
	m := testManager(nil, core.WithSink(sink))
	ctx := context.Background()

	id, err := m.Start(ctx, core.ImportRequest{Kind: core.KindTicket, Source: ticketCSV("CO-1,A,,1")})
	require.NoError(t, err)

	ch, stop, err := m.Subscribe(id)
	require.NoError(t, err)
	defer stop()
	for p := range ch {
		if p.Phase == core.PhaseWriting {
			break
		}
	}
	require.NoError(t, m.Cancel(id))

	// The blocked write fails; the run still reports its counts.
	res, err := m.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 1, res.WriteFailed)
	assert.Empty(t, sink.written)
}

func TestManager_Subscribe(t *testing.T) {
	sink := &gatedSink{release: make(chan struct{})}
	m := testManager(nil, core.WithSink(sink))

	id, err := m.Start(context.Background(), core.ImportRequest{Kind: core.KindTicket, Source: ticketCSV("CO-1,A,,1")})
	require.NoError(t, err)

	ch, stop, err := m.Subscribe(id)
	require.NoError(t, err)
	defer stop()

	first := <-ch
	assert.Equal(t, id, first.RunID)

	close(sink.release)
	var last core.ImportProgress
	for p := range ch {
		last = p
	}
	assert.Equal(t, core.PhaseComplete, last.Phase)

	// Subscribing after the end yields the final state and a closed channel.
	ch, _, err = m.Subscribe(id)
	require.NoError(t, err)
	p, ok := <-ch
	assert.True(t, ok)
	assert.Equal(t, core.PhaseComplete, p.Phase)
	_, ok = <-ch
	assert.False(t, ok)
}

func TestManager_CollectionUnavailable(t *testing.T) {
	m := testManager(&memCollection{err: errors.New("connection refused")})

	_, err := m.Run(context.Background(), core.ImportRequest{Kind: core.KindTicket, Source: ticketCSV("CO-1,A,,1")})
	assert.ErrorIs(t, err, core.ErrSinkUnavailable)

	_, err = m.Preview(context.Background(), core.ImportRequest{Kind: core.KindTicket, Source: ticketCSV("CO-1,A,,1")})
	assert.ErrorIs(t, err, core.ErrSinkUnavailable)
}

func TestManager_Preview(t *testing.T) {
	collection := &memCollection{records: map[core.Kind][]core.Record{
		core.KindTicket: {&core.Ticket{Meta: core.Meta{ID: "tkt-CO-1", ExternalRef: "CO-1"}, Title: "Old"}},
	}}
	sink := &gatedSink{release: make(chan struct{})}
	m := testManager(collection, core.WithSink(sink))

	preview, err := m.Preview(context.Background(), core.ImportRequest{
		Kind:   core.KindTicket,
		Source: ticketCSV("CO-1,New,,1", "CO-2,Other,,2"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, preview.Result.Added)
	assert.Equal(t, 1, preview.Result.Updated)
	assert.Empty(t, sink.written)
}

func TestManager_UnknownRun(t *testing.T) {
	m := testManager(nil)
	_, err := m.Progress("nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, m.Cancel("nope"), ErrRunNotFound)

	_, err = m.Start(context.Background(), core.ImportRequest{Kind: "invoice"})
	assert.ErrorIs(t, err, core.ErrUnknownKind)
}
