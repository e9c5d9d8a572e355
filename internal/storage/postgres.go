package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"announcement-engine/internal/announce"
	"announcement-engine/internal/config"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, cfg config.Config) (*Store, error) {
	dsn := cfg.DSN()
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Postgres.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.Postgres.MaxIdleConns)
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// LoadActiveAnnouncements loads all enabled announcements with their rules.
// One row per (announcement, rule); rule params come back as JSON.
func (s *Store) LoadActiveAnnouncements(ctx context.Context) ([]*announce.Announcement, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT a.id, a.label, a.priority, a.dismissal, a.expire_days,
		       a.valid_from, a.valid_until, a.override_token, a.payload,
		       r.kind, r.params
		FROM announcements a
		LEFT JOIN announcement_rules r ON r.announcement_id = a.id
		WHERE a.enabled
		ORDER BY a.id
	`)
	if err != nil {
		return nil, fmt.Errorf("query announcements: %w", err)
	}
	defer rows.Close()

	byID := map[string]*announce.Announcement{}
	var order []string

	for rows.Next() {
		var (
			id, label, dismissal  string
			priority, expireDays  int
			validFrom, validUntil sql.NullTime
			token                 sql.NullString
			payload               []byte
			kind, params          sql.NullString
		)
		if err := rows.Scan(&id, &label, &priority, &dismissal, &expireDays,
			&validFrom, &validUntil, &token, &payload, &kind, &params); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		a, ok := byID[id]
		if !ok {
			a = &announce.Announcement{
				ID:         id,
				Label:      label,
				Priority:   priority,
				Dismissal:  announce.DismissalPolicy(dismissal),
				ExpireDays: expireDays,
				Payload:    payload,
			}
			if validFrom.Valid {
				t := validFrom.Time
				a.ValidFrom = &t
			}
			if validUntil.Valid {
				t := validUntil.Time
				a.ValidUntil = &t
			}
			if token.Valid {
				a.OverrideToken = token.String
			}
			byID[id] = a
			order = append(order, id)
		}

		if kind.Valid && params.Valid {
			if err := attachRule(a, kind.String, []byte(params.String)); err != nil {
				return nil, fmt.Errorf("announcement %s: %w", id, err)
			}
		}
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	out := make([]*announce.Announcement, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out, nil
}

func attachRule(a *announce.Announcement, kind string, params []byte) error {
	switch kind {
	case "scroll":
		a.Rules.Scroll = &announce.ScrollRule{}
		return json.Unmarshal(params, a.Rules.Scroll)
	case "visit_count":
		a.Rules.VisitCount = &announce.VisitCountRule{}
		return json.Unmarshal(params, a.Rules.VisitCount)
	case "time_on_page":
		a.Rules.TimeOnPage = &announce.TimeOnPageRule{}
		return json.Unmarshal(params, a.Rules.TimeOnPage)
	case "referrer":
		a.Rules.Referrer = &announce.ReferrerRule{}
		return json.Unmarshal(params, a.Rules.Referrer)
	case "exit_intent":
		a.Rules.ExitIntent = &announce.ExitIntentRule{}
		return nil
	default:
		return fmt.Errorf("unknown rule kind %q", kind)
	}
}

func (s *Store) ListenChannel() string {
	return "announcement_change"
}

func (s *Store) PgxPool() *pgxpool.Pool {
	if s.pool == nil {
		panic(errors.New("pgx pool is nil"))
	}
	return s.pool
}
