package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3" // database/sql driver
	"github.com/rotisserie/eris"

	model "github.com/Yria/cocktime-scheduler-sub000/internal/domain/model"
	"github.com/Yria/cocktime-scheduler-sub000/pkg/logger"
	"github.com/Yria/cocktime-scheduler-sub000/pkg/metrics"
)

const (
	matchStatusActive    = "active"
	matchStatusCompleted = "completed"

	// fixed width so stored timestamps sort lexically
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// SQLStore persists sessions in a SQLite database using the relational
// session schema. The change feed polls sessions.revision.
type SQLStore struct {
	db  *sql.DB
	cfg settings
}

// NewSQLStore opens (or creates) the database at path and ensures the schema.
func NewSQLStore(path string, opts ...Option) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, eris.Wrap(err, "failed to open database")
	}
	// a single connection serialises writers and keeps :memory: databases shared
	db.SetMaxOpenConns(1)

	s := &SQLStore{db: db, cfg: newSettings("store.sqlite", opts)}
	if err := s.initDatabase(); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "failed to initialize database")
	}
	return s, nil
}

func (s *SQLStore) initDatabase() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			is_active INTEGER NOT NULL DEFAULT 0,
			court_count INTEGER NOT NULL DEFAULT 0,
			allow_single_woman INTEGER NOT NULL DEFAULT 0,
			started_at TEXT NOT NULL DEFAULT '',
			ended_at TEXT NOT NULL DEFAULT '',
			revision INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS session_players (
			session_id TEXT NOT NULL,
			player_id TEXT NOT NULL,
			name TEXT,
			gender TEXT,
			skills TEXT,
			status TEXT,
			force_mixed INTEGER,
			allow_mixed_single INTEGER,
			game_count INTEGER,
			mixed_count INTEGER,
			wait_since TEXT,
			join_seq INTEGER,
			PRIMARY KEY (session_id, player_id)
		)`,
		`CREATE TABLE IF NOT EXISTS matches (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			court_id INTEGER,
			game_type TEXT,
			team_a_p1 TEXT,
			team_a_p2 TEXT,
			team_b_p1 TEXT,
			team_b_p2 TEXT,
			group_id TEXT,
			status TEXT,
			started_at TEXT,
			ended_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS pair_history (
			session_id TEXT NOT NULL,
			player_a TEXT NOT NULL,
			player_b TEXT NOT NULL,
			count INTEGER NOT NULL,
			PRIMARY KEY (session_id, player_a, player_b)
		)`,
		`CREATE TABLE IF NOT EXISTS reserved_groups (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			member_ids TEXT,
			ready_ids TEXT,
			retired INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_matches_session ON matches (session_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_groups_session ON reserved_groups (session_id)`,
	}
	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return eris.Wrap(err, "failed to execute query")
		}
	}
	return nil
}

// Apply implements Store. The delta is written in one transaction.
func (s *SQLStore) Apply(ctx context.Context, sessionID string, d *model.Delta) (rev int64, err error) {
	if err := checkApply(ctx, sessionID, d); err != nil {
		return 0, err
	}
	start := time.Now()
	defer func() { metrics.RecordStoreOperation(DriverSQLite, "apply", time.Since(start), err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO sessions (id) VALUES (?)`, sessionID); err != nil {
		return 0, eris.Wrap(err, "failed to ensure session row")
	}
	if d.Reset {
		for _, table := range []string{"session_players", "matches", "pair_history", "reserved_groups"} {
			if _, err = tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE session_id = ?`, sessionID); err != nil {
				return 0, eris.Wrapf(err, "failed to clear %s", table)
			}
		}
	}
	if d.Session != nil {
		info := d.Session
		if _, err = tx.ExecContext(ctx,
			`UPDATE sessions SET is_active = ?, court_count = ?, allow_single_woman = ?, started_at = ?, ended_at = ? WHERE id = ?`,
			info.Active, info.CourtCount, info.AllowSingleWoman, formatTime(info.StartedAt), formatTime(info.EndedAt), sessionID,
		); err != nil {
			return 0, eris.Wrap(err, "failed to update session")
		}
	}
	for i := range d.Players {
		if err = upsertPlayer(ctx, tx, sessionID, &d.Players[i]); err != nil {
			return 0, err
		}
	}
	for _, id := range d.RemovedPlayers {
		if _, err = tx.ExecContext(ctx, `DELETE FROM session_players WHERE session_id = ? AND player_id = ?`, sessionID, id); err != nil {
			return 0, eris.Wrap(err, "failed to delete player")
		}
	}
	if d.Match != nil {
		if err = upsertMatch(ctx, tx, sessionID, d.Match); err != nil {
			return 0, err
		}
	}
	for i := range d.Groups {
		if err = upsertGroup(ctx, tx, sessionID, &d.Groups[i]); err != nil {
			return 0, err
		}
	}
	for _, id := range d.RemovedGroups {
		// the row stays as a tombstone so replays of the group cannot revive it
		if _, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO reserved_groups (id, session_id, member_ids, ready_ids, retired) VALUES (?, ?, '[]', '[]', 1)`,
			id, sessionID,
		); err != nil {
			return 0, eris.Wrap(err, "failed to retire group")
		}
	}
	for _, row := range d.Pairs {
		a, b := model.OrderedPair(row.PlayerA, row.PlayerB)
		if _, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO pair_history (session_id, player_a, player_b, count) VALUES (?, ?, ?, ?)`,
			sessionID, a, b, row.Count,
		); err != nil {
			return 0, eris.Wrap(err, "failed to write pair history")
		}
	}

	if _, err = tx.ExecContext(ctx, `UPDATE sessions SET revision = revision + 1 WHERE id = ?`, sessionID); err != nil {
		return 0, eris.Wrap(err, "failed to bump revision")
	}
	if err = tx.QueryRowContext(ctx, `SELECT revision FROM sessions WHERE id = ?`, sessionID).Scan(&rev); err != nil {
		return 0, eris.Wrap(err, "failed to read revision")
	}
	if err = tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "failed to commit")
	}
	return rev, nil
}

func upsertPlayer(ctx context.Context, tx *sql.Tx, sessionID string, p *model.SessionPlayer) error {
	skills, err := json.Marshal(p.Skills)
	if err != nil {
		return eris.Wrap(err, "failed to encode skills")
	}
	_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO session_players
		(session_id, player_id, name, gender, skills, status, force_mixed, allow_mixed_single, game_count, mixed_count, wait_since, join_seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, p.ID, p.Name, string(p.Gender), string(skills), string(p.Status), p.ForceMixed, p.AllowMixedSingle,
		p.GameCount, p.MixedCount, formatTime(p.WaitSince), p.JoinSeq,
	)
	return eris.Wrap(err, "failed to write player")
}

func upsertMatch(ctx context.Context, tx *sql.Tx, sessionID string, m *model.Match) error {
	status := matchStatusActive
	if m.Completed() {
		status = matchStatusCompleted
	}
	_, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO matches
		(id, session_id, court_id, game_type, team_a_p1, team_a_p2, team_b_p1, team_b_p2, group_id, status, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, sessionID, m.CourtID, string(m.GameType), m.TeamA[0], m.TeamA[1], m.TeamB[0], m.TeamB[1], m.GroupID,
		status, formatTime(m.StartedAt), formatTime(m.EndedAt),
	)
	return eris.Wrap(err, "failed to write match")
}

func upsertGroup(ctx context.Context, tx *sql.Tx, sessionID string, g *model.ReservedGroup) error {
	members, err := json.Marshal(g.MemberIDs)
	if err != nil {
		return eris.Wrap(err, "failed to encode members")
	}
	ready, err := json.Marshal(g.ReadyIDs)
	if err != nil {
		return eris.Wrap(err, "failed to encode ready members")
	}
	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO reserved_groups (id, session_id, member_ids, ready_ids) VALUES (?, ?, ?, ?)`,
		g.ID, sessionID, string(members), string(ready),
	)
	return eris.Wrap(err, "failed to write group")
}

// Snapshot implements Store.
func (s *SQLStore) Snapshot(ctx context.Context, sessionID string) (snap *model.Snapshot, err error) {
	start := time.Now()
	defer func() { metrics.RecordStoreOperation(DriverSQLite, "snapshot", time.Since(start), err) }()

	snap = &model.Snapshot{
		Players:       []model.SessionPlayer{},
		ActiveMatches: []model.Match{},
		PairHistory:   []model.PairRow{},
		Groups:        []model.ReservedGroup{},
	}
	var startedAt, endedAt string
	err = s.db.QueryRowContext(ctx,
		`SELECT is_active, court_count, allow_single_woman, started_at, ended_at, revision FROM sessions WHERE id = ?`, sessionID,
	).Scan(&snap.Session.Active, &snap.Session.CourtCount, &snap.Session.AllowSingleWoman, &startedAt, &endedAt, &snap.Revision)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "failed to read session")
	}
	snap.Session.ID = sessionID
	if snap.Session.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if snap.Session.EndedAt, err = parseTime(endedAt); err != nil {
		return nil, err
	}

	if snap.Players, err = s.readPlayers(ctx, sessionID); err != nil {
		return nil, err
	}
	var completed []model.Match
	if snap.ActiveMatches, completed, err = s.readMatches(ctx, sessionID); err != nil {
		return nil, err
	}
	snap.CompletedCount = len(completed)
	snap.LastMixed = latestMixed(completed)
	snap.CompletedMatchIDs = matchIDs(completed)
	if snap.PairHistory, err = s.readPairs(ctx, sessionID); err != nil {
		return nil, err
	}
	if snap.Groups, err = s.readGroups(ctx, sessionID); err != nil {
		return nil, err
	}
	if snap.RetiredGroupIDs, err = s.readRetiredGroups(ctx, sessionID); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *SQLStore) readPlayers(ctx context.Context, sessionID string) ([]model.SessionPlayer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT player_id, name, gender, skills, status, force_mixed, allow_mixed_single,
		game_count, mixed_count, wait_since, join_seq
		FROM session_players WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, eris.Wrap(err, "failed to query players")
	}
	defer rows.Close()

	out := []model.SessionPlayer{}
	for rows.Next() {
		var p model.SessionPlayer
		var gender, skills, status, waitSince string
		if err := rows.Scan(&p.ID, &p.Name, &gender, &skills, &status, &p.ForceMixed, &p.AllowMixedSingle,
			&p.GameCount, &p.MixedCount, &waitSince, &p.JoinSeq); err != nil {
			return nil, eris.Wrap(err, "failed to scan player")
		}
		p.Gender = model.Gender(gender)
		p.Status = model.Status(status)
		if skills != "" && skills != "null" {
			if err := json.Unmarshal([]byte(skills), &p.Skills); err != nil {
				return nil, fmt.Errorf("%w: player %s skills: %v", ErrInconsistency, p.ID, err)
			}
		}
		if p.WaitSince, err = parseTime(waitSince); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "failed to iterate players")
	}
	sortPlayers(out)
	return out, nil
}

func (s *SQLStore) readMatches(ctx context.Context, sessionID string) (active, completed []model.Match, err error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, court_id, game_type, team_a_p1, team_a_p2, team_b_p1, team_b_p2,
		group_id, status, started_at, ended_at
		FROM matches WHERE session_id = ? ORDER BY court_id, id`, sessionID)
	if err != nil {
		return nil, nil, eris.Wrap(err, "failed to query matches")
	}
	defer rows.Close()

	active = []model.Match{}
	for rows.Next() {
		var m model.Match
		var gameType, status, startedAt, endedAt string
		if err := rows.Scan(&m.ID, &m.CourtID, &gameType, &m.TeamA[0], &m.TeamA[1], &m.TeamB[0], &m.TeamB[1],
			&m.GroupID, &status, &startedAt, &endedAt); err != nil {
			return nil, nil, eris.Wrap(err, "failed to scan match")
		}
		m.GameType = model.GameType(gameType)
		if m.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, nil, err
		}
		if m.EndedAt, err = parseTime(endedAt); err != nil {
			return nil, nil, err
		}
		if status == matchStatusCompleted {
			completed = append(completed, m)
			continue
		}
		active = append(active, m)
	}
	return active, completed, eris.Wrap(rows.Err(), "failed to iterate matches")
}

func (s *SQLStore) readPairs(ctx context.Context, sessionID string) ([]model.PairRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT player_a, player_b, count FROM pair_history WHERE session_id = ? ORDER BY player_a, player_b`, sessionID)
	if err != nil {
		return nil, eris.Wrap(err, "failed to query pair history")
	}
	defer rows.Close()

	out := []model.PairRow{}
	for rows.Next() {
		var row model.PairRow
		if err := rows.Scan(&row.PlayerA, &row.PlayerB, &row.Count); err != nil {
			return nil, eris.Wrap(err, "failed to scan pair")
		}
		out = append(out, row)
	}
	return out, eris.Wrap(rows.Err(), "failed to iterate pair history")
}

func (s *SQLStore) readGroups(ctx context.Context, sessionID string) ([]model.ReservedGroup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, member_ids, ready_ids FROM reserved_groups WHERE session_id = ? AND retired = 0 ORDER BY id`, sessionID)
	if err != nil {
		return nil, eris.Wrap(err, "failed to query groups")
	}
	defer rows.Close()

	out := []model.ReservedGroup{}
	for rows.Next() {
		var g model.ReservedGroup
		var members, ready string
		if err := rows.Scan(&g.ID, &members, &ready); err != nil {
			return nil, eris.Wrap(err, "failed to scan group")
		}
		if err := json.Unmarshal([]byte(members), &g.MemberIDs); err != nil {
			return nil, fmt.Errorf("%w: group %s members: %v", ErrInconsistency, g.ID, err)
		}
		if err := json.Unmarshal([]byte(ready), &g.ReadyIDs); err != nil {
			return nil, fmt.Errorf("%w: group %s ready: %v", ErrInconsistency, g.ID, err)
		}
		if g.ReadyIDs == nil {
			g.ReadyIDs = []string{}
		}
		out = append(out, g)
	}
	return out, eris.Wrap(rows.Err(), "failed to iterate groups")
}

func (s *SQLStore) readRetiredGroups(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM reserved_groups WHERE session_id = ? AND retired = 1 ORDER BY id`, sessionID)
	if err != nil {
		return nil, eris.Wrap(err, "failed to query retired groups")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "failed to scan retired group")
		}
		out = append(out, id)
	}
	return out, eris.Wrap(rows.Err(), "failed to iterate retired groups")
}

// Watch implements Store by polling the session revision.
func (s *SQLStore) Watch(ctx context.Context, sessionID string) (<-chan int64, error) {
	ch := make(chan int64, 1)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(s.cfg.pollInterval)
		defer ticker.Stop()

		last := int64(-1)
		for {
			var rev int64
			err := s.db.QueryRowContext(ctx, `SELECT revision FROM sessions WHERE id = ?`, sessionID).Scan(&rev)
			switch {
			case err == nil:
				if rev != last {
					last = rev
					offer(ch, rev)
				}
			case errors.Is(err, sql.ErrNoRows), ctx.Err() != nil:
			default:
				s.cfg.log.Warn(ctx, "revision poll failed",
					logger.String("session", sessionID),
					logger.Error(err),
				)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return ch, nil
}

// Close implements Store.
func (s *SQLStore) Close() error {
	return eris.Wrap(s.db.Close(), "failed to close database")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q: %v", ErrInconsistency, v, err)
	}
	return t, nil
}
