// Package redisstore implements store.Store on Redis.
//
// Each record is a hash es:{partition}:{row} with fields d (JSON), v
// (version) and u (unix millis). A sorted set esp:{partition} with all
// scores zero indexes rows lexicographically for range queries. Writes run
// in WATCH/MULTI transactions retried on contention.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/linkAuth/store"
	"github.com/redis/go-redis/v9"
)

const (
	fieldData    = "d"
	fieldVersion = "v"
	fieldUpdated = "u"
	maxRetries   = 8
)

var _ store.Store = (*Store)(nil)

type Store struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// New returns a Store. prefix namespaces keys; empty means "es".
func New(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "es"
	}
	return &Store{redis: rdb, prefix: prefix, now: time.Now}
}

func (s *Store) recordKey(partition, row string) string {
	return s.prefix + ":" + partition + ":" + row
}

func (s *Store) indexKey(partition string) string {
	return s.prefix + "p:" + partition
}

func (s *Store) Get(ctx context.Context, partition, row string) (store.Record, error) {
	if err := store.CheckKey(partition, row); err != nil {
		return store.Record{}, err
	}
	vals, err := s.redis.HMGet(ctx, s.recordKey(partition, row), fieldData, fieldVersion, fieldUpdated).Result()
	if err != nil {
		return store.Record{}, unavailable(err)
	}
	return decode(partition, row, vals)
}

func (s *Store) Query(ctx context.Context, f store.Filter) ([]store.Record, error) {
	if f.Partition == "" {
		return nil, store.ErrInvalidKey
	}

	rng := &redis.ZRangeBy{Min: "-", Max: "+"}
	if f.RowFrom != "" {
		rng.Min = "[" + f.RowFrom
	}
	if f.RowTo != "" {
		rng.Max = "(" + f.RowTo
	}
	rows, err := s.redis.ZRangeByLex(ctx, s.indexKey(f.Partition), rng).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.SliceCmd, len(rows))
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, row := range rows {
			cmds[i] = pipe.HMGet(ctx, s.recordKey(f.Partition, row), fieldData, fieldVersion, fieldUpdated)
		}
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}

	out := make([]store.Record, 0, len(rows))
	for i, cmd := range cmds {
		rec, err := decode(f.Partition, rows[i], cmd.Val())
		if errors.Is(err, store.ErrNotFound) {
			// index entry outlived its record
			continue
		}
		if err != nil {
			return nil, err
		}
		if !store.MatchEquals(rec.Data, f.Equals) {
			continue
		}
		out = append(out, rec)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) Insert(ctx context.Context, rec store.Record) (store.Record, error) {
	return s.write(ctx, rec, func(current int64) (int64, error) {
		if current != 0 {
			return 0, store.ErrConflict
		}
		return 1, nil
	})
}

func (s *Store) Replace(ctx context.Context, rec store.Record) (store.Record, error) {
	return s.write(ctx, rec, func(current int64) (int64, error) {
		if current == 0 {
			return 0, store.ErrNotFound
		}
		if current != rec.Version {
			return 0, store.ErrPreconditionFailed
		}
		return current + 1, nil
	})
}

func (s *Store) Upsert(ctx context.Context, rec store.Record) (store.Record, error) {
	return s.write(ctx, rec, func(current int64) (int64, error) {
		return current + 1, nil
	})
}

func (s *Store) Delete(ctx context.Context, partition, row string, version int64) error {
	if err := store.CheckKey(partition, row); err != nil {
		return err
	}
	key := s.recordKey(partition, row)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			current, err := currentVersion(ctx, tx, key)
			if err != nil {
				return err
			}
			if current == 0 {
				return nil
			}
			if version != 0 && current != version {
				return store.ErrPreconditionFailed
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.ZRem(ctx, s.indexKey(partition), row)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return passthrough(err)
	}
	return fmt.Errorf("%w: contention on %s", store.ErrUnavailable, key)
}

// write runs a versioned write. next maps the stored version (0 when
// missing) to the new version or an error.
func (s *Store) write(ctx context.Context, rec store.Record, next func(current int64) (int64, error)) (store.Record, error) {
	if err := store.CheckKey(rec.Partition, rec.Row); err != nil {
		return store.Record{}, err
	}
	if len(rec.Data) == 0 {
		rec.Data = []byte("{}")
	}
	key := s.recordKey(rec.Partition, rec.Row)

	for i := 0; i < maxRetries; i++ {
		var written store.Record
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			current, err := currentVersion(ctx, tx, key)
			if err != nil {
				return err
			}
			version, err := next(current)
			if err != nil {
				return err
			}

			now := s.now().UTC()
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key,
					fieldData, []byte(rec.Data),
					fieldVersion, version,
					fieldUpdated, now.UnixMilli(),
				)
				pipe.ZAdd(ctx, s.indexKey(rec.Partition), redis.Z{Score: 0, Member: rec.Row})
				return nil
			})
			if err != nil {
				return err
			}

			written = rec
			written.Version = version
			written.UpdatedAt = time.UnixMilli(now.UnixMilli()).UTC()
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return store.Record{}, passthrough(err)
		}
		return written, nil
	}
	return store.Record{}, fmt.Errorf("%w: contention on %s", store.ErrUnavailable, key)
}

func currentVersion(ctx context.Context, tx *redis.Tx, key string) (int64, error) {
	v, err := tx.HGet(ctx, key, fieldVersion).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func decode(partition, row string, vals []interface{}) (store.Record, error) {
	if len(vals) != 3 || vals[0] == nil {
		return store.Record{}, store.ErrNotFound
	}
	data, ok := vals[0].(string)
	if !ok {
		return store.Record{}, fmt.Errorf("%w: corrupt record %s/%s", store.ErrUnavailable, partition, row)
	}
	version, _ := parseInt(vals[1])
	updated, _ := parseInt(vals[2])

	return store.Record{
		Partition: partition,
		Row:       row,
		Data:      []byte(data),
		Version:   version,
		UpdatedAt: time.UnixMilli(updated).UTC(),
	}, nil
}

func parseInt(v interface{}) (int64, error) {
	s, ok := v.(string)
	if !ok {
		return 0, errors.New("not a string")
	}
	return strconv.ParseInt(s, 10, 64)
}

func passthrough(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, store.ErrConflict),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrPreconditionFailed):
		return err
	}
	return unavailable(err)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}
