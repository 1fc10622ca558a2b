package streak

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var errMissingDatabase = errors.New("streak: database handle is required")

// EngineConfig describes the dependencies of the streak engine.
type EngineConfig struct {
	Database *gorm.DB
	// Cutoff overrides the daily grace instant; DefaultCutoff when zero.
	Cutoff time.Duration
}

// Engine maintains the derived streak rows for all scopes. Writes go
// through a single conditional upsert so concurrent success events for
// the same scope key serialize at the storage layer instead of racing
// through read-modify-write in application code.
type Engine struct {
	db     *gorm.DB
	cutoff time.Duration
}

// NewEngine constructs the engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	cutoff := cfg.Cutoff
	if cutoff <= 0 {
		cutoff = DefaultCutoff
	}
	return &Engine{db: cfg.Database, cutoff: cutoff}, nil
}

// Cutoff exposes the configured grace instant.
func (e *Engine) Cutoff() time.Duration {
	return e.cutoff
}

// Apply advances the scope's streak state for a newly recorded success
// on the given local calendar day.
func (e *Engine) Apply(ctx context.Context, scope Scope, day Day) error {
	return e.ApplyTx(e.db.WithContext(ctx), scope, day)
}

// ApplyTx is Apply running on the caller's transaction handle, so the
// event insert and the streak updates commit or roll back as one unit.
//
// The whole increment-or-reset decision lives in the upsert: +1 when the
// new day directly follows the stored one, no-op on the same day, reset
// to 1 on any gap or out-of-order day. The max streak only ever grows
// and the last success day never regresses.
func (e *Engine) ApplyTx(tx *gorm.DB, scope Scope, day Day) error {
	table, keyColumn := scope.table()
	statement := fmt.Sprintf(`
		INSERT INTO %[1]s (%[2]s, current_streak, max_streak, last_success_date)
		VALUES (?, 1, 1, ?)
		ON CONFLICT(%[2]s) DO UPDATE SET
			current_streak = CASE
				WHEN DATE(excluded.last_success_date) = DATE(%[1]s.last_success_date, '+1 day')
					THEN %[1]s.current_streak + 1
				WHEN DATE(excluded.last_success_date) = DATE(%[1]s.last_success_date)
					THEN %[1]s.current_streak
				ELSE 1
			END,
			max_streak = MAX(
				%[1]s.max_streak,
				CASE
					WHEN DATE(excluded.last_success_date) = DATE(%[1]s.last_success_date, '+1 day')
						THEN %[1]s.current_streak + 1
					WHEN DATE(excluded.last_success_date) = DATE(%[1]s.last_success_date)
						THEN %[1]s.current_streak
					ELSE 1
				END
			),
			last_success_date = CASE
				WHEN DATE(excluded.last_success_date) > DATE(%[1]s.last_success_date)
					THEN excluded.last_success_date
				ELSE %[1]s.last_success_date
			END`, table, keyColumn)

	if err := tx.Exec(statement, scope.ID, day.String()).Error; err != nil {
		return fmt.Errorf("streak: apply %s upsert: %w", scope.Kind, err)
	}
	return nil
}

// State reads the stored streak row for a scope. A missing row yields
// the zero state.
func (e *Engine) State(ctx context.Context, scope Scope) (State, error) {
	table, keyColumn := scope.table()
	query := fmt.Sprintf(
		"SELECT current_streak, max_streak, last_success_date FROM %s WHERE %s = ?",
		table, keyColumn,
	)

	var row struct {
		CurrentStreak  int
		MaxStreak      int
		LastSuccessDay string `gorm:"column:last_success_date"`
	}
	result := e.db.WithContext(ctx).Raw(query, scope.ID).Scan(&row)
	if result.Error != nil {
		return State{}, fmt.Errorf("streak: read %s state: %w", scope.Kind, result.Error)
	}
	if result.RowsAffected == 0 {
		return State{}, nil
	}

	lastDay, err := ParseDay(row.LastSuccessDay)
	if err != nil {
		return State{}, err
	}
	return State{
		CurrentStreak:  row.CurrentStreak,
		MaxStreak:      row.MaxStreak,
		LastSuccessDay: lastDay,
	}, nil
}

// Current reads the stored state and applies the grace window: when the
// last success day has fallen out of the window the current streak reads
// as zero while the max streak keeps the historical best. The now value
// must be localized to the scope's zone.
func (e *Engine) Current(ctx context.Context, scope Scope, now time.Time) (State, error) {
	state, err := e.State(ctx, scope)
	if err != nil {
		return State{}, err
	}
	if state.LastSuccessDay.IsZero() || !dayIsLive(state.LastSuccessDay, now, e.cutoff) {
		state.CurrentStreak = 0
	}
	return state, nil
}

// Recompute rebuilds and stores the scope's state from the full list of
// qualifying success days, replacing whatever the incremental path left
// behind. An empty day list leaves the row untouched.
func (e *Engine) Recompute(ctx context.Context, scope Scope, days []Day, now time.Time) (State, error) {
	state := Calculate(days, now, e.cutoff)
	if state.LastSuccessDay.IsZero() {
		return State{}, nil
	}

	table, keyColumn := scope.table()
	statement := fmt.Sprintf(`
		INSERT INTO %[1]s (%[2]s, current_streak, max_streak, last_success_date)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(%[2]s) DO UPDATE SET
			current_streak = excluded.current_streak,
			max_streak = excluded.max_streak,
			last_success_date = excluded.last_success_date`, table, keyColumn)

	err := e.db.WithContext(ctx).
		Exec(statement, scope.ID, state.CurrentStreak, state.MaxStreak, state.LastSuccessDay.String()).
		Error
	if err != nil {
		return State{}, fmt.Errorf("streak: recompute %s upsert: %w", scope.Kind, err)
	}
	return state, nil
}

// DeleteScope removes a scope's streak row, used when a user is purged
// from tracking.
func (e *Engine) DeleteScope(ctx context.Context, scope Scope) error {
	table, keyColumn := scope.table()
	statement := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", table, keyColumn)
	if err := e.db.WithContext(ctx).Exec(statement, scope.ID).Error; err != nil {
		return fmt.Errorf("streak: delete %s state: %w", scope.Kind, err)
	}
	return nil
}
