package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgStore struct {
	pool   *pgxpool.Pool
	prefix string

	tableUsers        string
	tableSeasons      string
	tableSeasonStats  string
	tableCommandUsage string
	tableControl      string
}

func OpenPostgres(ctx context.Context, url, prefix string) (*PgStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, unavailable(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, unavailable(err)
	}
	s := &PgStore{
		pool:              pool,
		prefix:            prefix,
		tableUsers:        prefix + "users",
		tableSeasons:      prefix + "seasons",
		tableSeasonStats:  prefix + "season_stats",
		tableCommandUsage: prefix + "command_usage",
		tableControl:      prefix + "season_control",
	}
	if err := s.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PgStore) init(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`create table if not exists %s (
            id bigserial primary key,
            user_id bigint not null unique,
            username text not null default '',
            name_kind text not null default 'handle',
            run_count bigint not null default 0 check (run_count >= 0),
            pidor_count bigint not null default 0 check (pidor_count >= 0),
            sosal_count bigint not null default 0 check (sosal_count >= 0)
        )`, s.tableUsers),
		fmt.Sprintf(`create table if not exists %s (
            id bigserial primary key,
            season_number integer not null unique,
            start_date timestamptz not null,
            end_date timestamptz
        )`, s.tableSeasons),
		fmt.Sprintf(`create table if not exists %s (
            id bigserial primary key,
            season_id integer not null,
            user_id bigint not null,
            username text not null default '',
            name_kind text not null default 'handle',
            run_count bigint not null default 0 check (run_count >= 0),
            pidor_count bigint not null default 0 check (pidor_count >= 0),
            sosal_count bigint not null default 0 check (sosal_count >= 0),
            unique (season_id, user_id)
        )`, s.tableSeasonStats),
		fmt.Sprintf(`create table if not exists %s (
            id bigserial primary key,
            scope text not null,
            command text not null,
            last_used timestamptz not null,
            unique (scope, command)
        )`, s.tableCommandUsage),
		fmt.Sprintf(`create table if not exists %s (
            id integer primary key default 1 check (id = 1),
            last_clear timestamptz,
            current_season integer not null default 1,
            is_active boolean not null default false
        )`, s.tableControl),
	}
	for _, q := range stmts {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *PgStore) Close() error { s.pool.Close(); return nil }

func (s *PgStore) Update(ctx context.Context, fn func(Tx) error) error {
	return s.run(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}

func (s *PgStore) View(ctx context.Context, fn func(Tx) error) error {
	return s.run(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, fn)
}

func (s *PgStore) run(ctx context.Context, opts pgx.TxOptions, fn func(Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return unavailable(err)
	}
	// rollback after commit is a no-op
	defer func() { _ = tx.Rollback(context.Background()) }()

	if err := fn(&pgTx{tx: tx, s: s, writable: opts.AccessMode != pgx.ReadOnly}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgTx struct {
	tx       pgx.Tx
	s        *PgStore
	writable bool
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (t *pgTx) Lock(ctx context.Context, key string, mode LockMode) error {
	fn := "pg_advisory_xact_lock"
	if mode == LockShared {
		fn = "pg_advisory_xact_lock_shared"
	}
	_, err := t.tx.Exec(ctx, fmt.Sprintf(`select %s(hashtext($1))`, fn), t.s.prefix+key)
	return err
}

func (t *pgTx) GetCooldown(ctx context.Context, scope, command string) (CooldownEntry, error) {
	e := CooldownEntry{Scope: scope, Command: command}
	err := t.tx.QueryRow(ctx,
		fmt.Sprintf(`select last_used from %s where scope=$1 and command=$2`, t.s.tableCommandUsage),
		scope, command,
	).Scan(&e.LastUsed)
	return e, notFound(err)
}

func (t *pgTx) PutCooldown(ctx context.Context, e CooldownEntry) error {
	if !t.writable {
		return ErrReadOnly
	}
	_, err := t.tx.Exec(ctx,
		fmt.Sprintf(`insert into %s (scope, command, last_used) values ($1,$2,$3)
         on conflict (scope, command) do update set last_used=excluded.last_used`, t.s.tableCommandUsage),
		e.Scope, e.Command, e.LastUsed,
	)
	return err
}

func (t *pgTx) GetUser(ctx context.Context, userID int64) (UserCounters, error) {
	var u UserCounters
	var kind string
	err := t.tx.QueryRow(ctx,
		fmt.Sprintf(`select id, user_id, username, name_kind, run_count, pidor_count, sosal_count from %s where user_id=$1`, t.s.tableUsers),
		userID,
	).Scan(&u.Seq, &u.UserID, &u.Name.Value, &kind, &u.Run, &u.Pidor, &u.Sosal)
	u.Name.Kind = NameKind(kind)
	return u, notFound(err)
}

func (t *pgTx) PutUser(ctx context.Context, u UserCounters) (UserCounters, error) {
	if !t.writable {
		return u, ErrReadOnly
	}
	err := t.tx.QueryRow(ctx,
		fmt.Sprintf(`insert into %s (user_id, username, name_kind, run_count, pidor_count, sosal_count)
         values ($1,$2,$3,$4,$5,$6)
         on conflict (user_id) do update set username=excluded.username, name_kind=excluded.name_kind,
         run_count=excluded.run_count, pidor_count=excluded.pidor_count, sosal_count=excluded.sosal_count
         returning id`, t.s.tableUsers),
		u.UserID, u.Name.Value, string(u.Name.Kind), u.Run, u.Pidor, u.Sosal,
	).Scan(&u.Seq)
	return u, err
}

func (t *pgTx) ListUsers(ctx context.Context) ([]UserCounters, error) {
	rows, err := t.tx.Query(ctx,
		fmt.Sprintf(`select id, user_id, username, name_kind, run_count, pidor_count, sosal_count from %s order by id`, t.s.tableUsers))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []UserCounters
	for rows.Next() {
		var u UserCounters
		var kind string
		if err := rows.Scan(&u.Seq, &u.UserID, &u.Name.Value, &kind, &u.Run, &u.Pidor, &u.Sosal); err != nil {
			return nil, err
		}
		u.Name.Kind = NameKind(kind)
		res = append(res, u)
	}
	return res, rows.Err()
}

func (t *pgTx) GetSeasonCounters(ctx context.Context, season int, userID int64) (SeasonCounters, error) {
	var sc SeasonCounters
	var kind string
	err := t.tx.QueryRow(ctx,
		fmt.Sprintf(`select id, season_id, user_id, username, name_kind, run_count, pidor_count, sosal_count
         from %s where season_id=$1 and user_id=$2`, t.s.tableSeasonStats),
		season, userID,
	).Scan(&sc.Seq, &sc.Season, &sc.UserID, &sc.Name.Value, &kind, &sc.Run, &sc.Pidor, &sc.Sosal)
	sc.Name.Kind = NameKind(kind)
	return sc, notFound(err)
}

func (t *pgTx) PutSeasonCounters(ctx context.Context, sc SeasonCounters) (SeasonCounters, error) {
	if !t.writable {
		return sc, ErrReadOnly
	}
	err := t.tx.QueryRow(ctx,
		fmt.Sprintf(`insert into %s (season_id, user_id, username, name_kind, run_count, pidor_count, sosal_count)
         values ($1,$2,$3,$4,$5,$6,$7)
         on conflict (season_id, user_id) do update set username=excluded.username, name_kind=excluded.name_kind,
         run_count=excluded.run_count, pidor_count=excluded.pidor_count, sosal_count=excluded.sosal_count
         returning id`, t.s.tableSeasonStats),
		sc.Season, sc.UserID, sc.Name.Value, string(sc.Name.Kind), sc.Run, sc.Pidor, sc.Sosal,
	).Scan(&sc.Seq)
	return sc, err
}

func (t *pgTx) ListSeasonCounters(ctx context.Context, season int) ([]SeasonCounters, error) {
	rows, err := t.tx.Query(ctx,
		fmt.Sprintf(`select id, season_id, user_id, username, name_kind, run_count, pidor_count, sosal_count
         from %s where season_id=$1 order by id`, t.s.tableSeasonStats), season)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []SeasonCounters
	for rows.Next() {
		var sc SeasonCounters
		var kind string
		if err := rows.Scan(&sc.Seq, &sc.Season, &sc.UserID, &sc.Name.Value, &kind, &sc.Run, &sc.Pidor, &sc.Sosal); err != nil {
			return nil, err
		}
		sc.Name.Kind = NameKind(kind)
		res = append(res, sc)
	}
	return res, rows.Err()
}

func (t *pgTx) GetControl(ctx context.Context) (SeasonControl, error) {
	var c SeasonControl
	var last *time.Time
	err := t.tx.QueryRow(ctx,
		fmt.Sprintf(`select current_season, is_active, last_clear from %s where id=1`, t.s.tableControl),
	).Scan(&c.Current, &c.Active, &last)
	c.LastRollover = last
	return c, notFound(err)
}

func (t *pgTx) PutControl(ctx context.Context, c SeasonControl) error {
	if !t.writable {
		return ErrReadOnly
	}
	_, err := t.tx.Exec(ctx,
		fmt.Sprintf(`insert into %s (id, current_season, is_active, last_clear) values (1,$1,$2,$3)
         on conflict (id) do update set current_season=excluded.current_season, is_active=excluded.is_active, last_clear=excluded.last_clear`, t.s.tableControl),
		c.Current, c.Active, c.LastRollover,
	)
	return err
}

func (t *pgTx) PutSeason(ctx context.Context, m SeasonMeta) error {
	if !t.writable {
		return ErrReadOnly
	}
	_, err := t.tx.Exec(ctx,
		fmt.Sprintf(`insert into %s (season_number, start_date, end_date) values ($1,$2,$3)
         on conflict (season_number) do update set start_date=excluded.start_date, end_date=excluded.end_date`, t.s.tableSeasons),
		m.Number, m.StartedAt, m.EndedAt,
	)
	return err
}

func (t *pgTx) ListSeasons(ctx context.Context) ([]SeasonMeta, error) {
	rows, err := t.tx.Query(ctx,
		fmt.Sprintf(`select season_number, start_date, end_date from %s order by season_number`, t.s.tableSeasons))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []SeasonMeta
	for rows.Next() {
		var m SeasonMeta
		if err := rows.Scan(&m.Number, &m.StartedAt, &m.EndedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
