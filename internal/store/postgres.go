package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Otheruser325/Protodice-sub001/internal/models"
)

// Postgres is the remote tier. All writes are upserts by primary key so
// multiple writer processes cannot corrupt each other's rows.
type Postgres struct {
	pool *pgxpool.Pool
}

// ConnectPostgres builds the pool from POSTGRES_USER/POSTGRES_PASSWORD/
// PG_HOST/PG_PORT/PG_DATABASE, pings it, and verifies the schema exists.
// Any failure here is structural: the caller degrades to the file tier.
func ConnectPostgres(ctx context.Context) (*Postgres, error) {
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"),
		os.Getenv("POSTGRES_PASSWORD"),
		os.Getenv("PG_HOST"),
		os.Getenv("PG_PORT"),
		os.Getenv("PG_DATABASE"),
	)

	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	p := &Postgres{pool: pool}
	if err := p.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("schema check failed: %w", err)
	}
	return p, nil
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		user_type     TEXT NOT NULL,
		avatar_url    TEXT NOT NULL DEFAULT '',
		icon          TEXT NOT NULL DEFAULT '',
		games_played  INT  NOT NULL DEFAULT 0,
		total_score   INT  NOT NULL DEFAULT 0,
		highest_score INT  NOT NULL DEFAULT 0,
		games_won     INT  NOT NULL DEFAULT 0,
		total_combos  INT  NOT NULL DEFAULT 0,
		combo_counts  JSONB NOT NULL DEFAULT '{}',
		best_combo    TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS lobbies (
		code         TEXT PRIMARY KEY,
		host_user_id TEXT NOT NULL,
		participants JSONB NOT NULL DEFAULT '[]',
		config       JSONB NOT NULL DEFAULT '{}',
		created_at   TIMESTAMPTZ NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL
	);`)
	return err
}

func (p *Postgres) Name() string { return "postgres" }

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() {
	p.pool.Close()
}

const userColumns = `id, name, user_type, avatar_url, icon,
	games_played, total_score, highest_score, games_won, total_combos,
	combo_counts, best_combo`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	var comboCounts []byte
	err := row.Scan(
		&u.ID, &u.Name, &u.Type, &u.AvatarURL, &u.Icon,
		&u.Stats.GamesPlayed, &u.Stats.TotalScore, &u.Stats.HighestScore,
		&u.Stats.GamesWon, &u.Stats.TotalCombosRolled,
		&comboCounts, &u.Stats.BestCombo,
	)
	if err != nil {
		return nil, err
	}
	if len(comboCounts) > 0 {
		if err := json.Unmarshal(comboCounts, &u.Stats.ComboCounts); err != nil {
			return nil, fmt.Errorf("decode combo_counts for user %s: %w", u.ID, err)
		}
	}
	return &u, nil
}

func (p *Postgres) LoadUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+userColumns+` FROM users`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (p *Postgres) LoadUser(ctx context.Context, id string) (*models.User, error) {
	u, err := scanUser(p.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	return u, err
}

func (p *Postgres) SaveUser(ctx context.Context, u *models.User) error {
	return pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return upsertUserTx(ctx, tx, u)
	})
}

func (p *Postgres) SaveUsers(ctx context.Context, users []*models.User) error {
	return pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, u := range users {
			if err := upsertUserTx(ctx, tx, u); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertUserTx(ctx context.Context, tx pgx.Tx, u *models.User) error {
	comboCounts, err := json.Marshal(u.Stats.ComboCounts)
	if err != nil {
		return fmt.Errorf("encode combo_counts for user %s: %w", u.ID, err)
	}
	q := `
	INSERT INTO users (` + userColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	ON CONFLICT (id) DO UPDATE SET
		name=$2, user_type=$3, avatar_url=$4, icon=$5,
		games_played=$6, total_score=$7, highest_score=$8,
		games_won=$9, total_combos=$10, combo_counts=$11, best_combo=$12
	`
	_, err = tx.Exec(ctx, q,
		u.ID, u.Name, u.Type, u.AvatarURL, u.Icon,
		u.Stats.GamesPlayed, u.Stats.TotalScore, u.Stats.HighestScore,
		u.Stats.GamesWon, u.Stats.TotalCombosRolled,
		comboCounts, u.Stats.BestCombo,
	)
	return err
}

func scanLobby(row pgx.Row) (*models.Lobby, error) {
	var l models.Lobby
	var participants, config []byte
	err := row.Scan(&l.Code, &l.HostUserID, &participants, &config, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(participants, &l.Participants); err != nil {
		return nil, fmt.Errorf("decode participants for lobby %s: %w", l.Code, err)
	}
	if err := json.Unmarshal(config, &l.Config); err != nil {
		return nil, fmt.Errorf("decode config for lobby %s: %w", l.Code, err)
	}
	return &l, nil
}

const lobbyColumns = `code, host_user_id, participants, config, created_at, updated_at`

func (p *Postgres) LoadLobbies(ctx context.Context) ([]*models.Lobby, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+lobbyColumns+` FROM lobbies`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lobbies []*models.Lobby
	for rows.Next() {
		l, err := scanLobby(rows)
		if err != nil {
			return nil, err
		}
		lobbies = append(lobbies, l)
	}
	return lobbies, rows.Err()
}

func (p *Postgres) LoadLobby(ctx context.Context, code string) (*models.Lobby, error) {
	l, err := scanLobby(p.pool.QueryRow(ctx, `SELECT `+lobbyColumns+` FROM lobbies WHERE code=$1`, code))
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	return l, err
}

func (p *Postgres) SaveLobby(ctx context.Context, l *models.Lobby) error {
	participants, err := json.Marshal(l.Participants)
	if err != nil {
		return fmt.Errorf("encode participants for lobby %s: %w", l.Code, err)
	}
	config, err := json.Marshal(l.Config)
	if err != nil {
		return fmt.Errorf("encode config for lobby %s: %w", l.Code, err)
	}
	q := `
	INSERT INTO lobbies (` + lobbyColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6)
	ON CONFLICT (code) DO UPDATE SET
		host_user_id=$2, participants=$3, config=$4, updated_at=$6
	`
	return pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, l.Code, l.HostUserID, participants, config, l.CreatedAt, l.UpdatedAt)
		return err
	})
}

func (p *Postgres) DeleteLobby(ctx context.Context, code string) error {
	return pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM lobbies WHERE code=$1`, code)
		return err
	})
}
