// Package terrain связывает генератор Diamond-Square с хранилищем, кешем,
// шиной событий и метриками.
package terrain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/annel0/terrain/internal/cache"
	"github.com/annel0/terrain/internal/codec"
	"github.com/annel0/terrain/internal/config"
	"github.com/annel0/terrain/internal/eventbus"
	"github.com/annel0/terrain/internal/heightmap"
	"github.com/annel0/terrain/internal/logging"
	"github.com/annel0/terrain/internal/observability"
	"github.com/annel0/terrain/internal/palette"
	"github.com/annel0/terrain/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// ErrNotFound возвращается для неизвестного идентификатора карты.
var ErrNotFound = errors.New("terrain: heightmap not found")

// EventSource имя источника в конвертах событий сервиса.
const EventSource = "terrain"

// Options задаёт зависимости сервиса. Обязательны только Limits и Store.
type Options struct {
	Limits     config.GeneratorConfig
	Store      storage.Store
	Cache      cache.CacheRepo   // nil: без горячего кеша
	CacheTTL   time.Duration     // 0: TTL кеша по умолчанию
	Bus        eventbus.EventBus // nil: события не публикуются
	Codec      *codec.Codec      // nil: codec.Default()
	Registerer prometheus.Registerer
	Logger     *logging.Logger
	Tracer     trace.Tracer // nil: observability.Tracer()
}

// Result содержит карту высот и её метаданные.
type Result struct {
	Meta   codec.Meta
	Grid   *heightmap.Grid
	Cached bool // карта уже существовала
}

// Service генерирует, сохраняет и выдаёт карты высот.
type Service struct {
	limits   config.GeneratorConfig
	store    storage.Store
	cache    cache.CacheRepo
	cacheTTL time.Duration
	bus      eventbus.EventBus
	codec    *codec.Codec
	metrics  *Metrics
	logger   *logging.Logger
	tracer   trace.Tracer

	group singleflight.Group
	now   func() time.Time
}

// NewService создаёт сервис.
func NewService(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("terrain: store is required")
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default()
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetGeneratorLogger()
	}
	if opts.Tracer == nil {
		opts.Tracer = observability.Tracer()
	}

	return &Service{
		limits:   opts.Limits,
		store:    opts.Store,
		cache:    opts.Cache,
		cacheTTL: opts.CacheTTL,
		bus:      opts.Bus,
		codec:    opts.Codec,
		metrics:  NewMetrics(opts.Registerer),
		logger:   opts.Logger,
		tracer:   opts.Tracer,
		now:      time.Now,
	}, nil
}

// Limits возвращает действующие ограничения генератора.
func (s *Service) Limits() config.GeneratorConfig {
	return s.limits
}

// Generate возвращает карту для запроса, генерируя её только если карты
// с такими параметрами ещё нет. Конкурентные одинаковые запросы
// выполняют генерацию один раз.
func (s *Service) Generate(ctx context.Context, req Request) (*Result, error) {
	params, err := req.Resolve(s.limits)
	if err != nil {
		return nil, err
	}
	id := KeyFor(params)

	if res, err := s.Get(ctx, id); err == nil {
		res.Cached = true
		return res, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	// Общая генерация не зависит от отмены первого из ожидающих.
	shared := context.WithoutCancel(ctx)
	v, err, _ := s.group.Do(id, func() (interface{}, error) {
		return s.generate(shared, id, params, req.SeedText)
	})
	if err != nil {
		return nil, err
	}

	res := *v.(*Result)
	return &res, nil
}

func (s *Service) generate(ctx context.Context, id string, params heightmap.Params, seedText string) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "heightmap.generate", trace.WithAttributes(
		attribute.String("heightmap.id", id),
		attribute.Int("heightmap.size", params.Size),
		attribute.Int64("heightmap.seed", params.Seed),
		attribute.Float64("heightmap.roughness", params.InitialRoughness),
		attribute.Float64("heightmap.h", params.H),
	))
	defer span.End()

	cells := 0
	params.Observer = func(ps heightmap.PassStats) {
		cells += ps.Cells
		span.AddEvent("pass", trace.WithAttributes(
			attribute.Int("pass", ps.Pass),
			attribute.Int("step", ps.Step),
			attribute.Int("cells", ps.Cells),
			attribute.Float64("amplitude", ps.Amplitude),
			attribute.Float64("max_perturbation", ps.MaxPerturbation),
		))
		logging.LogPass(s.logger, id, ps.Pass, ps.Step, ps.Cells, ps.Amplitude, ps.MaxPerturbation)
	}

	start := s.now()
	grid, err := heightmap.Generate(params)
	if err != nil {
		s.metrics.generationFailed()
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	elapsed := s.now().Sub(start)

	lo, hi := grid.MinMax()
	rec := &codec.Record{
		Meta: codec.Meta{
			ID:        id,
			Size:      params.Size,
			Seed:      params.Seed,
			SeedText:  seedText,
			Roughness: params.InitialRoughness,
			H:         params.H,
			Corners:   params.Corners,
			Tile:      params.Tile,
			CreatedAt: start.UTC(),
			Duration:  elapsed,
			Min:       lo,
			Max:       hi,
		},
		Grid: grid,
	}

	if err := s.save(ctx, rec); err != nil {
		s.metrics.generationFailed()
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.metrics.observeGeneration(params.Size, elapsed.Seconds(), cells)
	logging.LogGeneration(s.logger, id, params.Size, params.Seed, elapsed)

	s.publish(ctx, eventbus.HeightmapGenerated, eventbus.GeneratedPayload{
		ID:        id,
		Size:      params.Size,
		Seed:      params.Seed,
		Roughness: params.InitialRoughness,
		H:         params.H,
		Duration:  elapsed,
		Min:       lo,
		Max:       hi,
	})

	return &Result{Meta: rec.Meta, Grid: grid}, nil
}

// save кодирует запись, пишет её в хранилище и прогревает кеш.
func (s *Service) save(ctx context.Context, rec *codec.Record) error {
	data, err := s.codec.Encode(rec)
	if err != nil {
		return err
	}

	key := storage.HeightmapKey(rec.Meta.ID)
	if err := s.store.Store(ctx, key, data); err != nil {
		return fmt.Errorf("store heightmap %s: %w", rec.Meta.ID, err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
			s.logger.Warn("Не удалось записать %s в кеш: %v", rec.Meta.ID, err)
		}
	}
	return nil
}

// Get возвращает сохранённую карту. Сначала проверяется кеш, затем хранилище.
func (s *Service) Get(ctx context.Context, id string) (*Result, error) {
	if !ValidID(id) {
		return nil, ErrNotFound
	}

	data, err := s.load(ctx, storage.HeightmapKey(id))
	if err != nil {
		return nil, err
	}

	rec, err := s.codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode heightmap %s: %w", id, err)
	}
	return &Result{Meta: rec.Meta, Grid: rec.Grid}, nil
}

func (s *Service) load(ctx context.Context, key string) ([]byte, error) {
	if s.cache != nil {
		data, err := s.cache.Get(ctx, key)
		if err == nil {
			s.metrics.lookup(SourceCache)
			return data, nil
		}
		if !cache.IsCacheMiss(err) {
			s.logger.Warn("Ошибка кеша для %s: %v", key, err)
		}
	}

	data, err := s.store.Load(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		s.metrics.lookup(SourceMiss)
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.metrics.lookup(SourceStorage)

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
			s.logger.Warn("Не удалось прогреть кеш для %s: %v", key, err)
		}
	}
	return data, nil
}

// Cell возвращает высоту в точке (x, y) сохранённой карты.
func (s *Service) Cell(ctx context.Context, id string, x, y int) (float64, error) {
	res, err := s.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return res.Grid.Get(x, y)
}

// Delete удаляет карту из хранилища и кеша и публикует HeightmapDeleted.
func (s *Service) Delete(ctx context.Context, id string) error {
	if !ValidID(id) {
		return ErrNotFound
	}

	key := storage.HeightmapKey(id)
	if err := s.store.Delete(ctx, key); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}

	s.invalidate(ctx, key)
	s.publish(ctx, eventbus.HeightmapDeleted, eventbus.DeletedPayload{ID: id})
	s.logger.Info("Heightmap %s deleted", id)
	return nil
}

func (s *Service) invalidate(ctx context.Context, key string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, key); err != nil {
		s.logger.Warn("Не удалось удалить %s из кеша: %v", key, err)
	}
}

// List возвращает метаданные всех сохранённых карт в порядке идентификаторов.
func (s *Service) List(ctx context.Context) ([]codec.Meta, error) {
	keys, err := s.store.Keys(ctx, storage.KeyPrefix)
	if err != nil {
		return nil, err
	}

	items, err := s.store.BatchLoad(ctx, keys)
	if err != nil {
		return nil, err
	}

	metas := make([]codec.Meta, 0, len(keys))
	for _, key := range keys {
		data, ok := items[key]
		if !ok {
			continue // удалён между Keys и BatchLoad
		}
		rec, err := s.codec.Decode(data)
		if err != nil {
			s.logger.Warn("Пропуск повреждённой записи %s: %v", key, err)
			continue
		}
		metas = append(metas, rec.Meta)
	}
	return metas, nil
}

// RenderPNG пишет цветное превью карты.
func (s *Service) RenderPNG(ctx context.Context, id string, w io.Writer) error {
	res, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return palette.WritePNG(w, res.Grid)
}

// SubscribeInvalidations удаляет из локального кеша карты, удалённые
// другими экземплярами сервиса.
func (s *Service) SubscribeInvalidations(ctx context.Context) (eventbus.Subscription, error) {
	if s.bus == nil || s.cache == nil {
		return nil, nil
	}

	return s.bus.Subscribe(ctx, eventbus.Filter{Types: []string{eventbus.HeightmapDeleted}},
		func(ctx context.Context, ev *eventbus.Envelope) {
			var p eventbus.DeletedPayload
			if err := ev.Decode(&p); err != nil {
				s.logger.Warn("Некорректное событие %s: %v", ev.ID, err)
				return
			}
			s.invalidate(ctx, storage.HeightmapKey(p.ID))
		})
}

func (s *Service) publish(ctx context.Context, eventType string, payload interface{}) {
	if s.bus == nil {
		return
	}

	ev, err := eventbus.NewEnvelope(EventSource, eventType, 5, payload)
	if err != nil {
		s.logger.Error("Ошибка создания события %s: %v", eventType, err)
		return
	}
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.logger.Warn("Не удалось опубликовать %s: %v", eventType, err)
	}
}
