package terrain

import (
	"bytes"
	"context"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/annel0/terrain/internal/cache"
	"github.com/annel0/terrain/internal/config"
	"github.com/annel0/terrain/internal/eventbus"
	"github.com/annel0/terrain/internal/heightmap"
	"github.com/annel0/terrain/internal/logging"
	"github.com/annel0/terrain/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type fixture struct {
	svc      *Service
	store    *storage.MemoryStore
	cache    *cache.MemoryCache
	bus      eventbus.EventBus
	spans    *tracetest.SpanRecorder
	registry *prometheus.Registry
	logs     *bytes.Buffer
}

func testLimits() config.GeneratorConfig {
	return config.GeneratorConfig{
		DefaultSize:      33,
		DefaultRoughness: 2.0,
		DefaultH:         1.0,
		MinSize:          3,
		MaxSize:          129,
	}
}

func newFixture(t *testing.T, withCache bool) *fixture {
	t.Helper()

	f := &fixture{
		store:    storage.NewMemoryStore(),
		bus:      eventbus.NewMemoryBus(64),
		spans:    tracetest.NewSpanRecorder(),
		registry: prometheus.NewRegistry(),
		logs:     &bytes.Buffer{},
	}
	t.Cleanup(func() { f.bus.Close() })

	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(f.spans))

	opts := Options{
		Limits:     testLimits(),
		Store:      f.store,
		Bus:        f.bus,
		Registerer: f.registry,
		Logger:     logging.NewConsoleLogger("generator", f.logs, logging.TRACE),
		Tracer:     tp.Tracer("test"),
	}
	if withCache {
		f.cache = cache.NewMemoryCache(cache.CacheConfig{}, nil)
		opts.Cache = f.cache
	}

	svc, err := NewService(opts)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func seed(v int64) *int64 { return &v }

func TestService_GenerateAndGet(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	res, err := f.svc.Generate(ctx, Request{Size: 33, Seed: seed(42)})
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, 33, res.Meta.Size)
	assert.Equal(t, int64(42), res.Meta.Seed)
	assert.Equal(t, 2.0, res.Meta.Roughness, "шероховатость по умолчанию из конфигурации")
	assert.True(t, ValidID(res.Meta.ID))

	lo, hi := res.Grid.MinMax()
	assert.Equal(t, lo, res.Meta.Min)
	assert.Equal(t, hi, res.Meta.Max)

	// Результат совпадает с прямым вызовом генератора
	direct, err := heightmap.Generate(heightmap.Params{Size: 33, Seed: 42, InitialRoughness: 2, H: 1})
	require.NoError(t, err)
	assert.True(t, direct.Equal(res.Grid))

	got, err := f.svc.Get(ctx, res.Meta.ID)
	require.NoError(t, err)
	assert.True(t, got.Grid.Equal(res.Grid))
	assert.Equal(t, res.Meta.ID, got.Meta.ID)

	assert.Equal(t, 1, f.store.Count())
	ok, _ := f.cache.Exists(ctx, storage.HeightmapKey(res.Meta.ID))
	assert.True(t, ok, "сгенерированная карта попадает в кеш")
}

func TestService_GenerateIsIdempotent(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	first, err := f.svc.Generate(ctx, Request{Size: 17, Seed: seed(7)})
	require.NoError(t, err)

	second, err := f.svc.Generate(ctx, Request{Size: 17, Seed: seed(7)})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Meta.ID, second.Meta.ID)
	assert.True(t, first.Grid.Equal(second.Grid))

	other, err := f.svc.Generate(ctx, Request{Size: 17, Seed: seed(8)})
	require.NoError(t, err)
	assert.NotEqual(t, first.Meta.ID, other.Meta.ID)

	assert.Equal(t, 2.0, testutil.ToFloat64(f.svc.metrics.generations.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.svc.metrics.lookups.WithLabelValues(SourceStorage)))
}

func TestService_ConcurrentGenerateRunsOnce(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.Generate(ctx, Request{Size: 65, SeedText: "shared"})
			if assert.NoError(t, err) {
				ids[i] = res.Meta.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, f.store.Count())
	assert.LessOrEqual(t, testutil.ToFloat64(f.svc.metrics.generations.WithLabelValues("ok")), 8.0)
}

// gatedStore задерживает запись до закрытия release и учитывает отмену ctx.
type gatedStore struct {
	*storage.MemoryStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedStore) Store(ctx context.Context, key string, value []byte) error {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	if err := ctx.Err(); err != nil {
		return err
	}
	return g.MemoryStore.Store(ctx, key, value)
}

func TestService_CoalescedGenerateSurvivesFirstCallerCancel(t *testing.T) {
	store := &gatedStore{
		MemoryStore: storage.NewMemoryStore(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	svc, err := NewService(Options{
		Limits:     testLimits(),
		Store:      store,
		Registerer: prometheus.NewRegistry(),
		Logger:     logging.NewConsoleLogger("generator", &bytes.Buffer{}, logging.ERROR),
	})
	require.NoError(t, err)

	req := Request{Size: 17, SeedText: "coalesced"}
	firstCtx, cancelFirst := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	var firstErr, secondErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = svc.Generate(firstCtx, req)
	}()

	<-store.entered
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, secondErr = svc.Generate(context.Background(), req)
	}()

	// Второй вызов успевает присоединиться к уже идущей генерации.
	time.Sleep(50 * time.Millisecond)
	cancelFirst()
	close(store.release)
	wg.Wait()

	assert.NoError(t, firstErr)
	assert.NoError(t, secondErr, "отмена первого вызова не должна ронять присоединившихся")
	assert.Equal(t, 1, store.Count())
}

func TestService_SeedTextAndExplicitInputs(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	h := 0.5
	rough := 1.0
	corners := [4]float64{1, 2, 3, 4}
	res, err := f.svc.Generate(ctx, Request{Size: 9, SeedText: "alpha", H: &h, Roughness: &rough, Corners: &corners})
	require.NoError(t, err)

	assert.Equal(t, heightmap.SeedFromString("alpha"), res.Meta.Seed)
	assert.Equal(t, "alpha", res.Meta.SeedText)
	assert.Equal(t, 0.5, res.Meta.H)
	for i, c := range res.Grid.Corners() {
		assert.Equal(t, corners[i], res.Grid.At(c))
	}
}

func TestService_Validation(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, err := f.svc.Generate(ctx, Request{Size: 10})
	assert.ErrorIs(t, err, heightmap.ErrInvalidSize)

	_, err = f.svc.Generate(ctx, Request{Size: 257})
	assert.ErrorIs(t, err, ErrSizeLimit)

	bad := -1.0
	_, err = f.svc.Generate(ctx, Request{Size: 9, Roughness: &bad})
	assert.ErrorIs(t, err, heightmap.ErrInvalidParameter)

	assert.Equal(t, 0, f.store.Count())
}

func TestService_CellDeleteList(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	a, err := f.svc.Generate(ctx, Request{Size: 9, Seed: seed(1)})
	require.NoError(t, err)
	b, err := f.svc.Generate(ctx, Request{Size: 9, Seed: seed(2)})
	require.NoError(t, err)

	v, err := f.svc.Cell(ctx, a.Meta.ID, 4, 4)
	require.NoError(t, err)
	want, _ := a.Grid.Get(4, 4)
	assert.Equal(t, want, v)

	_, err = f.svc.Cell(ctx, a.Meta.ID, 9, 0)
	assert.ErrorIs(t, err, heightmap.ErrOutOfBounds)

	metas, err := f.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 2)
	ids := []string{metas[0].ID, metas[1].ID}
	assert.ElementsMatch(t, []string{a.Meta.ID, b.Meta.ID}, ids)

	require.NoError(t, f.svc.Delete(ctx, a.Meta.ID))
	assert.ErrorIs(t, f.svc.Delete(ctx, a.Meta.ID), ErrNotFound)

	_, err = f.svc.Get(ctx, a.Meta.ID)
	assert.ErrorIs(t, err, ErrNotFound, "удалённая карта не возвращается из кеша")

	_, err = f.svc.Get(ctx, "not-an-id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_Events(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	var (
		mu     sync.Mutex
		events []*eventbus.Envelope
	)
	_, err := f.bus.Subscribe(ctx, eventbus.Filter{}, func(ctx context.Context, ev *eventbus.Envelope) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	require.NoError(t, err)

	res, err := f.svc.Generate(ctx, Request{Size: 9, Seed: seed(3)})
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(ctx, res.Meta.ID))
	require.NoError(t, f.bus.Close())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)

	types := map[string]*eventbus.Envelope{}
	for _, ev := range events {
		types[ev.EventType] = ev
	}
	require.Contains(t, types, eventbus.HeightmapGenerated)
	require.Contains(t, types, eventbus.HeightmapDeleted)

	var gen eventbus.GeneratedPayload
	require.NoError(t, types[eventbus.HeightmapGenerated].Decode(&gen))
	assert.Equal(t, res.Meta.ID, gen.ID)
	assert.Equal(t, 9, gen.Size)
	assert.Equal(t, EventSource, types[eventbus.HeightmapGenerated].Source)
}

func TestService_SubscribeInvalidations(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	res, err := f.svc.Generate(ctx, Request{Size: 9, Seed: seed(4)})
	require.NoError(t, err)
	key := storage.HeightmapKey(res.Meta.ID)

	_, err = f.svc.SubscribeInvalidations(ctx)
	require.NoError(t, err)

	// Удаление другим экземпляром: событие приходит, локальный кеш очищается
	ev, err := eventbus.NewEnvelope("terrain-2", eventbus.HeightmapDeleted, 5, eventbus.DeletedPayload{ID: res.Meta.ID})
	require.NoError(t, err)
	require.NoError(t, f.bus.Publish(ctx, ev))

	assert.Eventually(t, func() bool {
		ok, _ := f.cache.Exists(ctx, key)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestService_TracingAndMetrics(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	res, err := f.svc.Generate(ctx, Request{Size: 33, Seed: seed(5)})
	require.NoError(t, err)

	spans := f.spans.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "heightmap.generate", span.Name())
	assert.Len(t, span.Events(), heightmap.Levels(33), "по событию на проход")

	assert.Equal(t, float64(33*33-4), testutil.ToFloat64(f.svc.metrics.cellsGenerated))
	assert.Equal(t, 1, testutil.CollectAndCount(f.svc.metrics.duration))

	out := f.logs.String()
	assert.Contains(t, out, "Heightmap "+res.Meta.ID+" generated")
	assert.Contains(t, out, "pass 4: step=2")
}

func TestService_RenderPNG(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	res, err := f.svc.Generate(ctx, Request{Size: 17, Seed: seed(6)})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, f.svc.RenderPNG(ctx, res.Meta.ID, &buf))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 17, img.Bounds().Dx())
	assert.Equal(t, 17, img.Bounds().Dy())

	assert.ErrorIs(t, f.svc.RenderPNG(ctx, "0000000000000000", &buf), ErrNotFound)
}

func TestNewService_RequiresStore(t *testing.T) {
	_, err := NewService(Options{Limits: testLimits(), Registerer: prometheus.NewRegistry()})
	assert.Error(t, err)
}
