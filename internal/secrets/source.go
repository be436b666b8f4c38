package secrets

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/vehicle-resolver/internal/db"
)

// StaticSource serves values from configuration. Keys match
// case-insensitively because viper lowercases map keys.
type StaticSource struct {
	values map[string]string
}

// NewStaticSource creates a source over values.
func NewStaticSource(values map[string]string) *StaticSource {
	m := make(map[string]string, len(values))
	for k, v := range values {
		m[strings.ToLower(k)] = v
	}
	return &StaticSource{values: m}
}

func (s *StaticSource) Lookup(_ context.Context, name string) (string, bool, error) {
	v, ok := s.values[strings.ToLower(name)]
	return v, ok, nil
}

// EnvSource reads values from the process environment, which is how
// deployments usually inject credentials.
type EnvSource struct {
	lookup func(string) (string, bool)
}

// NewEnvSource creates a source over os.LookupEnv.
func NewEnvSource() *EnvSource {
	return &EnvSource{lookup: os.LookupEnv}
}

func (s *EnvSource) Lookup(_ context.Context, name string) (string, bool, error) {
	v, ok := s.lookup(name)
	return v, ok, nil
}

// ChainSource returns the first source that knows a name.
type ChainSource []Source

func (c ChainSource) Lookup(ctx context.Context, name string) (string, bool, error) {
	for _, s := range c {
		v, ok, err := s.Lookup(ctx, name)
		if err != nil {
			return "", false, err
		}
		if ok {
			return v, true, nil
		}
	}
	return "", false, nil
}

// PostgresSource reads the app_secrets table.
type PostgresSource struct {
	pool db.Pool
}

// NewPostgresSource creates a source over pool.
func NewPostgresSource(pool db.Pool) *PostgresSource {
	return &PostgresSource{pool: pool}
}

func (s *PostgresSource) Lookup(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM app_secrets WHERE name = $1`, name).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, eris.Wrapf(err, "secrets: query %s", name)
	}
	return value, true, nil
}
