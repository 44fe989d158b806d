package dataset

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Querier is the subset of *pgxpool.Pool the extractor needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Connect opens a pool and verifies it with a ping.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse db url: %w", err)
	}
	cfg.MaxConnLifetime = 1 * time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return pool, nil
}

// trainingQuery builds one row per patient and surgery profile. Day-1
// answers come from the questionnaire JSON; the outcome is any high or
// critical response from day 3 on. Only completed surgeries of patients
// with a responded follow-up and a day-1 follow-up are kept.
const trainingQuery = `
SELECT
    p.age::int AS idade,
    p.sex AS sexo,
    STRING_AGG(DISTINCT c.name, ',') AS comorbidades,
    s.type::text AS tipo_cirurgia,
    s."durationMinutes"::float8 AS duracao_minutos,
    CASE WHEN a."pudendoBlock" = true THEN 1 ELSE 0 END AS bloqueio_pudendo,
    MAX(CASE
        WHEN fu."dayNumber" = 1
        THEN CAST(fur."questionnaireData"->>'painLevel' AS INTEGER)
    END)::float8 AS dor_d1,
    MAX(CASE
        WHEN fu."dayNumber" = 1
        THEN CASE WHEN fur."questionnaireData"->>'urinaryRetention' = 'true' THEN 1 ELSE 0 END
    END) AS retencao_urinaria,
    MAX(CASE
        WHEN fu."dayNumber" = 1
        THEN CASE WHEN fur."questionnaireData"->>'fever' = 'true' THEN 1 ELSE 0 END
    END) AS febre,
    MAX(CASE
        WHEN fu."dayNumber" = 1
        THEN CASE WHEN fur."questionnaireData"->>'intenseBleeding' = 'true' THEN 1 ELSE 0 END
    END) AS sangramento_intenso,
    MAX(CASE
        WHEN fu."dayNumber" >= 3 AND fur."riskLevel" IN ('high', 'critical')
        THEN 1
        ELSE 0
    END) AS teve_complicacao
FROM "Patient" p
LEFT JOIN "PatientComorbidity" pc ON p.id = pc."patientId"
LEFT JOIN "Comorbidity" c ON pc."comorbidityId" = c.id
LEFT JOIN "Surgery" s ON p.id = s."patientId"
LEFT JOIN "Anesthesia" a ON s.id = a."surgeryId"
LEFT JOIN "FollowUp" fu ON s.id = fu."surgeryId"
LEFT JOIN "FollowUpResponse" fur ON fu.id = fur."followUpId"
WHERE
    p.age IS NOT NULL
    AND s.type IS NOT NULL
    AND s.status = 'completed'
    AND EXISTS (
        SELECT 1 FROM "FollowUp" fu2
        WHERE fu2."patientId" = p.id AND fu2.status = 'responded'
    )
GROUP BY p.id, p.age, p.sex, s.type, s."durationMinutes", a."pudendoBlock"
HAVING MAX(CASE WHEN fu."dayNumber" = 1 THEN 1 ELSE 0 END) = 1
`

// Extractor reads the individual training set from the follow-up database.
type Extractor struct {
	db     Querier
	logger *zap.Logger
}

func NewExtractor(db Querier, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{db: db, logger: logger}
}

// Extract runs the training query and returns its rows as a frame.
func (e *Extractor) Extract(ctx context.Context) (*Frame, error) {
	rows, err := e.db.Query(ctx, trainingQuery)
	if err != nil {
		return nil, fmt.Errorf("query training data: %w", err)
	}
	records, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("collect training data: %w", err)
	}

	frame := NewFrame(Columns())
	frame.Rows = make([]Row, 0, len(records))
	for _, rec := range records {
		frame.Rows = append(frame.Rows, Row(rec))
	}
	e.logger.Info("training data loaded", zap.Int("rows", frame.Len()))
	return frame, nil
}
