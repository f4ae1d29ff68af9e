package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketUsers        = []byte("users")
	bucketSeasonStats  = []byte("season_stats")
	bucketCommandUsage = []byte("command_usage")
	bucketControl      = []byte("season_control")
	bucketSeasons      = []byte("seasons")

	controlKey = []byte("control")
)

// BoltStore keeps the five tables as buckets of JSON values in a single file.
// bbolt allows one writer at a time, so every Update is already serialized.
type BoltStore struct {
	db      *bolt.DB
	buckets map[string][]byte
}

func OpenBolt(path, prefix string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, unavailable(err)
	}
	s := &BoltStore{db: db, buckets: make(map[string][]byte)}
	for _, b := range [][]byte{bucketUsers, bucketSeasonStats, bucketCommandUsage, bucketControl, bucketSeasons} {
		s.buckets[string(b)] = []byte(prefix + string(b))
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range s.buckets {
			if _, e := tx.CreateBucketIfNotExists(name); e != nil {
				return e
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx, s: s})
	})
}

func (s *BoltStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx, s: s})
	})
}

type boltTx struct {
	tx *bolt.Tx
	s  *BoltStore
}

func (t *boltTx) bucket(name []byte) *bolt.Bucket {
	return t.tx.Bucket(t.s.buckets[string(name)])
}

func (t *boltTx) put(name, key []byte, v any) error {
	if !t.tx.Writable() {
		return ErrReadOnly
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.bucket(name).Put(key, b)
}

func (t *boltTx) get(name, key []byte, v any) error {
	raw := t.bucket(name).Get(key)
	if raw == nil {
		return ErrNotFound
	}
	return json.Unmarshal(raw, v)
}

func (t *boltTx) nextSeq(name []byte) (int64, error) {
	seq, err := t.bucket(name).NextSequence()
	if err != nil {
		return 0, err
	}
	return int64(seq), nil
}

// Lock is a no-op: bbolt already serializes writers.
func (t *boltTx) Lock(ctx context.Context, key string, mode LockMode) error {
	return ctx.Err()
}

func cooldownKey(scope, command string) []byte {
	return []byte(scope + "\x00" + command)
}

func userKey(userID int64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(userID))
	return k
}

func seasonKey(season int) []byte {
	k := make([]byte, 4)
	binary.BigEndian.PutUint32(k, uint32(season))
	return k
}

func seasonUserKey(season int, userID int64) []byte {
	return append(seasonKey(season), userKey(userID)...)
}

func (t *boltTx) GetCooldown(ctx context.Context, scope, command string) (CooldownEntry, error) {
	var e CooldownEntry
	err := t.get(bucketCommandUsage, cooldownKey(scope, command), &e)
	return e, err
}

func (t *boltTx) PutCooldown(ctx context.Context, e CooldownEntry) error {
	if e.Scope == "" || e.Command == "" {
		return fmt.Errorf("cooldown scope and command required")
	}
	return t.put(bucketCommandUsage, cooldownKey(e.Scope, e.Command), e)
}

func (t *boltTx) GetUser(ctx context.Context, userID int64) (UserCounters, error) {
	var u UserCounters
	err := t.get(bucketUsers, userKey(userID), &u)
	return u, err
}

func (t *boltTx) PutUser(ctx context.Context, u UserCounters) (UserCounters, error) {
	if u.Seq == 0 {
		if existing, err := t.GetUser(ctx, u.UserID); err == nil {
			u.Seq = existing.Seq
		} else if !t.tx.Writable() {
			return u, ErrReadOnly
		} else if u.Seq, err = t.nextSeq(bucketUsers); err != nil {
			return u, err
		}
	}
	return u, t.put(bucketUsers, userKey(u.UserID), u)
}

func (t *boltTx) ListUsers(ctx context.Context) ([]UserCounters, error) {
	var res []UserCounters
	err := t.bucket(bucketUsers).ForEach(func(k, v []byte) error {
		var u UserCounters
		if err := json.Unmarshal(v, &u); err != nil {
			return err
		}
		res = append(res, u)
		return nil
	})
	sort.SliceStable(res, func(i, j int) bool { return res[i].Seq < res[j].Seq })
	return res, err
}

func (t *boltTx) GetSeasonCounters(ctx context.Context, season int, userID int64) (SeasonCounters, error) {
	var sc SeasonCounters
	err := t.get(bucketSeasonStats, seasonUserKey(season, userID), &sc)
	return sc, err
}

func (t *boltTx) PutSeasonCounters(ctx context.Context, sc SeasonCounters) (SeasonCounters, error) {
	if sc.Seq == 0 {
		if existing, err := t.GetSeasonCounters(ctx, sc.Season, sc.UserID); err == nil {
			sc.Seq = existing.Seq
		} else if !t.tx.Writable() {
			return sc, ErrReadOnly
		} else if sc.Seq, err = t.nextSeq(bucketSeasonStats); err != nil {
			return sc, err
		}
	}
	return sc, t.put(bucketSeasonStats, seasonUserKey(sc.Season, sc.UserID), sc)
}

func (t *boltTx) ListSeasonCounters(ctx context.Context, season int) ([]SeasonCounters, error) {
	var res []SeasonCounters
	prefix := seasonKey(season)
	c := t.bucket(bucketSeasonStats).Cursor()
	for k, v := c.Seek(prefix); k != nil && len(k) == 12 && string(k[:4]) == string(prefix); k, v = c.Next() {
		var sc SeasonCounters
		if err := json.Unmarshal(v, &sc); err != nil {
			return nil, err
		}
		res = append(res, sc)
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].Seq < res[j].Seq })
	return res, nil
}

func (t *boltTx) GetControl(ctx context.Context) (SeasonControl, error) {
	var c SeasonControl
	err := t.get(bucketControl, controlKey, &c)
	return c, err
}

func (t *boltTx) PutControl(ctx context.Context, c SeasonControl) error {
	return t.put(bucketControl, controlKey, c)
}

func (t *boltTx) PutSeason(ctx context.Context, m SeasonMeta) error {
	return t.put(bucketSeasons, seasonKey(m.Number), m)
}

func (t *boltTx) ListSeasons(ctx context.Context) ([]SeasonMeta, error) {
	var res []SeasonMeta
	err := t.bucket(bucketSeasons).ForEach(func(k, v []byte) error {
		var m SeasonMeta
		if err := json.Unmarshal(v, &m); err != nil {
			return err
		}
		res = append(res, m)
		return nil
	})
	return res, err
}
