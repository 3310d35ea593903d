package pgstore

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/MrEthical07/linkAuth/store"
	"github.com/MrEthical07/linkAuth/store/pgstore/migrations"
)

func TestBuildQueryPartitionOnly(t *testing.T) {
	sql, args := buildQuery(store.Filter{Partition: "users"})
	assert.Equal(t, `SELECT partition, row_key, data, version, updated_at FROM entities WHERE partition = $1 ORDER BY row_key`, sql)
	assert.Equal(t, []any{"users"}, args)
}

func TestBuildQueryAllClauses(t *testing.T) {
	sql, args := buildQuery(store.Filter{
		Partition: "users",
		RowFrom:   "a",
		RowTo:     "m",
		Equals:    map[string]string{"tier": "pro", "email": "a@x.com"},
		Limit:     10,
	})
	assert.Equal(t,
		`SELECT partition, row_key, data, version, updated_at FROM entities WHERE partition = $1`+
			` AND row_key >= $2 AND row_key < $3`+
			` AND data->>$4 = $5 AND data->>$6 = $7`+
			` ORDER BY row_key LIMIT $8`,
		sql)
	assert.Equal(t, []any{"users", "a", "m", "email", "a@x.com", "tier", "pro", 10}, args)
}

func TestDataOrEmpty(t *testing.T) {
	assert.Equal(t, []byte("{}"), dataOrEmpty(nil))
	assert.Equal(t, []byte(`{"a":1}`), dataOrEmpty([]byte(`{"a":1}`)))
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsDir()
	assert.NoError(t, err)
	assert.Contains(t, entries, "00001_entities.sql")
}

func migrationsDir() ([]string, error) {
	entries, err := migrations.FS.ReadDir(".")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}
