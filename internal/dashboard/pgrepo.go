package dashboard

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/format"
)

// DriversView is the materialized view read by the direct driver fallback.
const DriversView = "mv_entregadores_agregado"

const driversQuery = `
SELECT id_entregador,
       max(nome_entregador) AS nome_entregador,
       CASE WHEN count(DISTINCT praca) = 1 THEN max(praca) ELSE '' END AS praca,
       coalesce(sum(corridas_ofertadas), 0)::bigint,
       coalesce(sum(corridas_aceitas), 0)::bigint,
       coalesce(sum(corridas_rejeitadas), 0)::bigint,
       coalesce(sum(corridas_completadas), 0)::bigint,
       coalesce(sum(segundos_planejados), 0)::bigint,
       coalesce(sum(segundos_realizados), 0)::bigint
FROM ` + DriversView + `
WHERE ($1::int IS NULL OR ano = $1)
  AND ($2::int IS NULL OR semana = $2)
  AND ($3::text IS NULL OR praca = $3)
  AND ($4::text IS NULL OR sub_praca = $4)
  AND ($5::text IS NULL OR origem = $5)
  AND ($6::text IS NULL OR turno = $6)
  AND ($7::date IS NULL OR data_do_periodo >= $7)
  AND ($8::date IS NULL OR data_do_periodo <= $8)
  AND ($11::text[] IS NULL OR praca = ANY($11))
  AND ($9::text IS NULL OR nome_entregador ILIKE '%' || $9 || '%' OR id_entregador = $9)
GROUP BY id_entregador
ORDER BY 7 DESC, 2
LIMIT $10`

// PGRepository reads aggregates straight from the materialized views over a
// direct Postgres connection.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository wraps a pgx pool.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Entregadores aggregates drivers for the filter window.
func (r *PGRepository) Entregadores(ctx context.Context, f Filter, q DriverQuery) ([]Entregador, error) {
	q = q.normalize()
	rows, err := r.pool.Query(ctx, driversQuery,
		nullInt(f.Ano), nullInt(f.Semana),
		nullText(f.Praca), nullText(f.SubPraca), nullText(f.Origem), nullText(f.Turno),
		nullText(f.DataInicial), nullText(f.DataFinal),
		nullText(q.Termo), q.Limite, nullTexts(f.Pracas),
	)
	if err != nil {
		return nil, fmt.Errorf("dashboard: query drivers: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entregador, error) {
		var (
			e                  Entregador
			planned, delivered int64
		)
		if err := row.Scan(&e.ID, &e.Nome, &e.Praca, &e.Ofertadas, &e.Aceitas, &e.Rejeitadas, &e.Completadas, &planned, &delivered); err != nil {
			return Entregador{}, err
		}
		e.HorasAEntregar = format.SecondsToHMS(planned)
		e.HorasEntregues = format.SecondsToHMS(delivered)
		e.Aderencia = format.Ratio(float64(delivered), float64(planned))
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("dashboard: scan drivers: %w", err)
	}
	return out, nil
}

func nullInt(v int) *int {
	if v <= 0 {
		return nil
	}
	return &v
}

func nullText(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func nullTexts(v []string) any {
	if len(v) == 0 {
		return nil
	}
	return v
}
