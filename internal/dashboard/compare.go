package dashboard

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/format"
)

const compareConcurrency = 4

// CompareWeeks loads the résumé and UTR of every week concurrently and
// computes the variation between consecutive weeks, oldest first.
func (s *Service) CompareWeeks(ctx context.Context, f Filter, weeks []format.Week) (WeekComparison, error) {
	f.Ano, f.Semana = 0, 0
	f, err := prepare(f)
	if err != nil {
		return WeekComparison{}, err
	}
	weeks, err = uniqueWeeks(weeks)
	if err != nil {
		return WeekComparison{}, err
	}

	metrics := make([]WeekMetrics, len(weeks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(compareConcurrency)
	for i, w := range weeks {
		i, w := i, w
		g.Go(func() error {
			wf := f.WithWeek(w)
			resumo, err := s.GetResumo(gctx, wf)
			if err != nil {
				return fmt.Errorf("week %s: %w", w, err)
			}
			utr, err := s.GetUTR(gctx, wf)
			if err != nil {
				return fmt.Errorf("week %s: %w", w, err)
			}
			metrics[i] = WeekMetrics{
				Week:        w,
				Label:       w.Label(),
				Totais:      resumo.Totais,
				Aderencia:   resumo.Geral.Aderencia,
				Cor:         format.AdherenceColor(resumo.Geral.Aderencia),
				UTR:         utr.Geral.UTR,
				HorasOnline: utr.Geral.HorasHMS,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return WeekComparison{}, err
	}
	return WeekComparison{Weeks: metrics, Variations: variations(metrics)}, nil
}

func uniqueWeeks(weeks []format.Week) ([]format.Week, error) {
	seen := make(map[format.Week]struct{}, len(weeks))
	out := make([]format.Week, 0, len(weeks))
	for _, w := range weeks {
		if err := w.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidComparison, err)
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	if len(out) < 2 {
		return nil, fmt.Errorf("%w: at least two distinct weeks required", ErrInvalidComparison)
	}
	if len(out) > MaxCompareWeeks {
		return nil, fmt.Errorf("%w: at most %d weeks", ErrInvalidComparison, MaxCompareWeeks)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func variations(metrics []WeekMetrics) []WeekVariation {
	if len(metrics) < 2 {
		return nil
	}
	out := make([]WeekVariation, 0, len(metrics)-1)
	for i := 1; i < len(metrics); i++ {
		prev, cur := metrics[i-1], metrics[i]
		out = append(out, WeekVariation{
			From:        prev.Week,
			To:          cur.Week,
			Aderencia:   format.Variation(prev.Aderencia, cur.Aderencia),
			Completadas: format.Variation(float64(prev.Totais.Completadas), float64(cur.Totais.Completadas)),
			UTR:         format.Variation(prev.UTR, cur.UTR),
		})
	}
	return out
}
