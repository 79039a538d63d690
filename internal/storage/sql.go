package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nlstn/go-entityhub/internal/patch"
	"github.com/nlstn/go-entityhub/internal/query"
	"github.com/nlstn/go-entityhub/internal/sqlfilter"
	"gorm.io/gorm"
)

const (
	keyColumn   = "entity_key"
	valueColumn = "entity_value"
)

type entityRow struct {
	Key   string `gorm:"column:entity_key;primaryKey"`
	Value string `gorm:"column:entity_value"`
}

// SQLContainer stores entities in one table with a key column and a JSON
// value column. Filters are compiled to SQL conditions on the value column.
type SQLContainer struct {
	name    string
	table   string
	db      *gorm.DB
	dialect sqlfilter.Dialect
	cache   *sqlfilter.Cache
	logger  *slog.Logger
}

// SQLOption configures a SQLContainer.
type SQLOption func(*SQLContainer)

// WithTable overrides the table name, which defaults to the container name.
func WithTable(table string) SQLOption {
	return func(c *SQLContainer) {
		c.table = table
	}
}

// WithFilterCache shares a compiled filter cache between containers.
func WithFilterCache(cache *sqlfilter.Cache) SQLOption {
	return func(c *SQLContainer) {
		c.cache = cache
	}
}

// WithLogger sets the logger for compiled conditions and failures.
func WithLogger(logger *slog.Logger) SQLOption {
	return func(c *SQLContainer) {
		c.SetLogger(logger)
	}
}

// NewSQLContainer creates the container's table if it does not exist.
func NewSQLContainer(ctx context.Context, db *gorm.DB, name string, opts ...SQLOption) (*SQLContainer, error) {
	dialect, err := sqlfilter.DialectOf(db)
	if err != nil {
		return nil, err
	}
	c := &SQLContainer{
		name:    name,
		table:   name,
		db:      db,
		dialect: dialect,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cache == nil {
		c.cache = sqlfilter.NewCache(sqlfilter.DefaultCacheSize)
	}
	if strings.TrimSpace(c.table) == "" {
		return nil, fmt.Errorf("container %q: empty table name", name)
	}
	if err := c.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to create table for container %q: %w", name, err)
	}
	return c, nil
}

// SetLogger replaces the logger. A nil logger restores slog.Default().
func (c *SQLContainer) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	c.logger = logger
}

func (c *SQLContainer) Name() string { return c.name }

func (c *SQLContainer) migrate(ctx context.Context) error {
	var keyType, valueType string
	switch c.dialect.Name() {
	case sqlfilter.Postgres.Name():
		keyType, valueType = "TEXT", "JSONB"
	case sqlfilter.SQLServer.Name():
		keyType, valueType = "NVARCHAR(450)", "NVARCHAR(MAX)"
	default:
		keyType, valueType = "TEXT", "TEXT"
	}
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s %s PRIMARY KEY, %s %s NOT NULL)",
		c.quote(c.table), c.quote(keyColumn), keyType, c.quote(valueColumn), valueType)
	if c.dialect.Name() == sqlfilter.SQLServer.Name() {
		stmt = fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (%s %s PRIMARY KEY, %s %s NOT NULL)",
			strings.ReplaceAll(c.table, "'", "''"), c.quote(c.table), c.quote(keyColumn), keyType, c.quote(valueColumn), valueType)
	}
	return c.db.WithContext(ctx).Exec(stmt).Error
}

func (c *SQLContainer) quote(ident string) string {
	return sqlfilter.QuoteIdent(c.dialect, ident)
}

func (c *SQLContainer) keyCondition() string {
	return c.quote(keyColumn) + " = ?"
}

func (c *SQLContainer) take(tx *gorm.DB, key string) (entityRow, error) {
	var row entityRow
	err := tx.Table(c.table).Where(c.keyCondition(), key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return row, fmt.Errorf("%w: %s/%s", ErrEntityNotFound, c.name, key)
	}
	return row, err
}

func (c *SQLContainer) Create(ctx context.Context, entity Entity) error {
	if err := validate(entity); err != nil {
		return err
	}
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := c.take(tx, entity.Key); err == nil {
			return fmt.Errorf("%w: %s/%s", ErrEntityExists, c.name, entity.Key)
		} else if !errors.Is(err, ErrEntityNotFound) {
			return err
		}
		return tx.Table(c.table).Create(&entityRow{Key: entity.Key, Value: string(entity.Value)}).Error
	})
}

func (c *SQLContainer) Upsert(ctx context.Context, entity Entity) (json.RawMessage, error) {
	if err := validate(entity); err != nil {
		return nil, err
	}
	var previous json.RawMessage
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := c.take(tx, entity.Key)
		switch {
		case errors.Is(err, ErrEntityNotFound):
			return tx.Table(c.table).Create(&entityRow{Key: entity.Key, Value: string(entity.Value)}).Error
		case err != nil:
			return err
		}
		previous = json.RawMessage(row.Value)
		return c.update(tx, entity.Key, entity.Value)
	})
	if err != nil {
		return nil, err
	}
	return previous, nil
}

func (c *SQLContainer) update(tx *gorm.DB, key string, value json.RawMessage) error {
	return tx.Table(c.table).Where(c.keyCondition(), key).Update(valueColumn, string(value)).Error
}

func (c *SQLContainer) Read(ctx context.Context, key string) (Entity, error) {
	row, err := c.take(c.db.WithContext(ctx), key)
	if err != nil {
		return Entity{}, err
	}
	return Entity{Key: row.Key, Value: json.RawMessage(row.Value)}, nil
}

// QueryEntities compiles filter for the container's dialect and runs it as the WHERE condition.
func (c *SQLContainer) QueryEntities(ctx context.Context, filter query.FilterOperation) ([]Entity, error) {
	db := c.db.WithContext(ctx).Table(c.table)
	if filter != nil {
		condition, err := c.cache.Compile(filter, c.dialect, valueColumn)
		if err != nil {
			return nil, fmt.Errorf("container %q: %w", c.name, err)
		}
		c.logger.Debug("compiled filter",
			"container", c.name,
			"filter", filter.String(),
			"condition", condition)
		db = db.Where(condition)
	}

	var rows []entityRow
	if err := db.Order(c.quote(keyColumn)).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("container %q: query failed: %w", c.name, err)
	}
	result := make([]Entity, 0, len(rows))
	for _, row := range rows {
		result = append(result, Entity{Key: row.Key, Value: json.RawMessage(row.Value)})
	}
	return result, nil
}

// Patch reads, patches and writes the entity in one transaction.
func (c *SQLContainer) Patch(ctx context.Context, key string, patches patch.List) (json.RawMessage, json.RawMessage, error) {
	var previous, current json.RawMessage
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := c.take(tx, key)
		if err != nil {
			return err
		}
		previous = json.RawMessage(row.Value)
		current, err = applyPatches(previous, patches)
		if err != nil {
			return err
		}
		return c.update(tx, key, current)
	})
	if err != nil {
		return nil, nil, err
	}
	return previous, current, nil
}

func (c *SQLContainer) Delete(ctx context.Context, key string) (json.RawMessage, error) {
	var previous json.RawMessage
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := c.take(tx, key)
		if err != nil {
			return err
		}
		previous = json.RawMessage(row.Value)
		return tx.Table(c.table).Where(c.keyCondition(), key).Delete(&entityRow{}).Error
	})
	if err != nil {
		return nil, err
	}
	return previous, nil
}

// Close is a no-op: the database handle is owned by the caller.
func (c *SQLContainer) Close() error {
	return nil
}
