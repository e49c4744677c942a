package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/format"
)

// CacheObserver counts cache hits and misses.
type CacheObserver interface {
	ObserveCacheLookup(hit bool)
}

const defaultLoadTimeout = 90 * time.Second

// Service coordinates repository loads with the result cache.
type Service struct {
	repo        Repository
	cache       Cache
	group       singleflight.Group
	logger      *slog.Logger
	observer    CacheObserver
	loadTimeout time.Duration
}

// NewService wires a Repository with a Cache. A nil cache disables caching.
func NewService(repo Repository, cache Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger, loadTimeout: defaultLoadTimeout}
}

// WithLoadTimeout bounds a shared load, which outlives the request that
// started it.
func (s *Service) WithLoadTimeout(d time.Duration) *Service {
	if d > 0 {
		s.loadTimeout = d
	}
	return s
}

// WithObserver attaches a cache hit/miss counter.
func (s *Service) WithObserver(obs CacheObserver) *Service {
	s.observer = obs
	return s
}

// CacheKey is the cache key of op for a serialized payload seen from scope.
func CacheKey(scope, op string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return "dashboard:" + scope + ":" + op + ":" + string(raw), nil
}

// load serves dest from the cache or populates it with loader. Identical
// concurrent misses in the same scope share one loader call, which runs
// detached from any single caller's cancellation.
func (s *Service) load(ctx context.Context, op string, payload any, dest any, loader func(context.Context) (any, error)) error {
	key, err := CacheKey(ScopeFromContext(ctx), op, payload)
	if err != nil {
		return fmt.Errorf("dashboard: cache key: %w", err)
	}
	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			s.logger.Warn("dashboard cache read failed", slog.String("key", key), slog.Any("error", err))
		} else if ok {
			s.observe(true)
			return json.Unmarshal(cached, dest)
		}
		s.observe(false)
	}

	resultChan := s.group.DoChan(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadTimeout)
		defer cancel()
		value, err := loader(loadCtx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			if err := s.cache.Set(loadCtx, key, raw); err != nil {
				s.logger.Warn("dashboard cache write failed", slog.String("key", key), slog.Any("error", err))
			}
		}
		return raw, nil
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return res.Err
		}
		return json.Unmarshal(res.Val.([]byte), dest)
	}
}

func (s *Service) observe(hit bool) {
	if s.observer != nil {
		s.observer.ObserveCacheLookup(hit)
	}
}

func prepare(f Filter) (Filter, error) {
	f = f.Normalize()
	if err := f.Validate(); err != nil {
		return Filter{}, err
	}
	return f, nil
}

// GetResumo returns the main dashboard aggregate.
func (s *Service) GetResumo(ctx context.Context, f Filter) (Resumo, error) {
	f, err := prepare(f)
	if err != nil {
		return Resumo{}, err
	}
	var out Resumo
	err = s.load(ctx, "resumo", f, &out, func(ctx context.Context) (any, error) {
		return s.repo.Resumo(ctx, f)
	})
	return out, err
}

// GetUTR returns trips per online hour.
func (s *Service) GetUTR(ctx context.Context, f Filter) (UTR, error) {
	f, err := prepare(f)
	if err != nil {
		return UTR{}, err
	}
	var out UTR
	err = s.load(ctx, "utr", f, &out, func(ctx context.Context) (any, error) {
		return s.repo.UTR(ctx, f)
	})
	return out, err
}

// ListEntregadores searches drivers.
func (s *Service) ListEntregadores(ctx context.Context, f Filter, q DriverQuery) ([]Entregador, error) {
	f, err := prepare(f)
	if err != nil {
		return nil, err
	}
	q = q.normalize()
	if err := validate.Struct(q); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	payload := struct {
		Filter
		DriverQuery
	}{f, q}
	var out []Entregador
	err = s.load(ctx, "entregadores", payload, &out, func(ctx context.Context) (any, error) {
		return s.repo.Entregadores(ctx, f, q)
	})
	return out, err
}

// GetMarketingTotals returns the marketing funnel counters.
func (s *Service) GetMarketingTotals(ctx context.Context, f Filter) (MarketingTotals, error) {
	f, err := prepare(f)
	if err != nil {
		return MarketingTotals{}, err
	}
	var out MarketingTotals
	err = s.load(ctx, "marketing", f, &out, func(ctx context.Context) (any, error) {
		return s.repo.MarketingTotals(ctx, f)
	})
	return out, err
}

// ListWeeks returns weeks with data for ano (all years when zero).
func (s *Service) ListWeeks(ctx context.Context, ano int) ([]format.Week, error) {
	if ano != 0 && (ano < 2000 || ano > 2100) {
		return nil, fmt.Errorf("%w: ano %d", ErrInvalidFilter, ano)
	}
	var out []format.Week
	err := s.load(ctx, "weeks", map[string]int{"ano": ano}, &out, func(ctx context.Context) (any, error) {
		return s.repo.Weeks(ctx, ano)
	})
	return out, err
}

// ListYears returns the years with data.
func (s *Service) ListYears(ctx context.Context) ([]int, error) {
	var out []int
	err := s.load(ctx, "years", struct{}{}, &out, func(ctx context.Context) (any, error) {
		return s.repo.Years(ctx)
	})
	return out, err
}

// FilterOptions returns the selectable filter values.
func (s *Service) FilterOptions(ctx context.Context) (FilterOptions, error) {
	var out FilterOptions
	err := s.load(ctx, "filters", struct{}{}, &out, func(ctx context.Context) (any, error) {
		return s.repo.FilterOptions(ctx)
	})
	return out, err
}

// LatestWeek returns the newest week with data.
func (s *Service) LatestWeek(ctx context.Context) (format.Week, error) {
	weeks, err := s.ListWeeks(ctx, 0)
	if err != nil {
		return format.Week{}, err
	}
	if len(weeks) == 0 {
		return format.Week{}, errors.New("dashboard: no weeks available")
	}
	return weeks[0], nil
}

// Invalidate drops every cached result.
func (s *Service) Invalidate(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Invalidate(ctx)
}

// Warm preloads the résumé, UTR and filter options of the latest week in the
// all-praças scope.
func (s *Service) Warm(ctx context.Context) (format.Week, error) {
	ctx = ServiceContext(ctx)
	week, err := s.LatestWeek(ctx)
	if err != nil {
		return format.Week{}, err
	}
	f := Filter{}.WithWeek(week)
	if _, err := s.GetResumo(ctx, f); err != nil {
		return week, err
	}
	if _, err := s.GetUTR(ctx, f); err != nil {
		return week, err
	}
	if _, err := s.FilterOptions(ctx); err != nil {
		return week, err
	}
	return week, nil
}
