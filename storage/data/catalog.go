// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package data

import (
	"context"
	"database/sql"
	"maps"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/gorse-io/recommender/base/json"
	"github.com/gorse-io/recommender/base/log"
	"github.com/gorse-io/recommender/config"
	"github.com/gorse-io/recommender/storage"
	"github.com/jellydator/ttlcache/v3"
	"github.com/juju/errors"
	_ "github.com/lib/pq"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	_ "modernc.org/sqlite"
)

type Driver int

const (
	MySQL Driver = iota
	Postgres
	SQLite
)

// Item is a catalog record. Every column of the items table is kept.
type Item map[string]any

// User is a user profile. Every column of the users table is kept.
type User map[string]any

// Catalog is a read-only view over the items and users tables.
type Catalog struct {
	client *sql.DB
	gormDB *gorm.DB
	driver Driver
	cache  *ttlcache.Cache[int64, Item]

	itemsTable    string
	usersTable    string
	itemIdColumn  string
	userIdColumn  string
	historyColumn string
}

// Open connects to the catalog database selected by the store prefix.
func Open(cfg config.CatalogConfig) (*Catalog, error) {
	var (
		catalog = new(Catalog)
		path    = cfg.Store
		err     error
	)
	tablePrefix := storage.TablePrefix(cfg.TablePrefix)
	catalog.itemsTable = tablePrefix.Key(cfg.ItemsTable)
	catalog.usersTable = tablePrefix.Key(cfg.UsersTable)
	catalog.itemIdColumn = cfg.ItemIdColumn
	catalog.userIdColumn = cfg.UserIdColumn
	catalog.historyColumn = cfg.HistoryColumn
	gormConfig := storage.NewGORMConfig(cfg.TablePrefix)
	if strings.HasPrefix(path, storage.MySQLPrefix) {
		name := path[len(storage.MySQLPrefix):]
		if name, err = storage.AppendMySQLParams(name, map[string]string{
			"parseTime": "true",
		}); err != nil {
			return nil, errors.Trace(err)
		}
		catalog.driver = MySQL
		if catalog.client, err = otelsql.Open("mysql", name,
			otelsql.WithAttributes(attribute.String("db.system", "mysql")),
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
		); err != nil {
			return nil, errors.Trace(err)
		}
		if catalog.gormDB, err = gorm.Open(mysql.New(mysql.Config{Conn: catalog.client}), gormConfig); err != nil {
			return nil, errors.Trace(err)
		}
	} else if strings.HasPrefix(path, storage.PostgresPrefix) || strings.HasPrefix(path, storage.PostgreSQLPrefix) {
		catalog.driver = Postgres
		if catalog.client, err = otelsql.Open("postgres", path,
			otelsql.WithAttributes(attribute.String("db.system", "postgresql")),
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
		); err != nil {
			return nil, errors.Trace(err)
		}
		if catalog.gormDB, err = gorm.Open(postgres.New(postgres.Config{Conn: catalog.client}), gormConfig); err != nil {
			return nil, errors.Trace(err)
		}
	} else if strings.HasPrefix(path, storage.SQLitePrefix) {
		// append parameters
		if path, err = storage.AppendURLParams(path, []lo.Tuple2[string, string]{
			{A: "_pragma", B: "busy_timeout(10000)"},
		}); err != nil {
			return nil, errors.Trace(err)
		}
		name := path[len(storage.SQLitePrefix):]
		catalog.driver = SQLite
		if catalog.client, err = otelsql.Open("sqlite", name,
			otelsql.WithAttributes(attribute.String("db.system", "sqlite")),
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
		); err != nil {
			return nil, errors.Trace(err)
		}
		if catalog.gormDB, err = gorm.Open(sqlite.Dialector{Conn: catalog.client}, gormConfig); err != nil {
			return nil, errors.Trace(err)
		}
	} else {
		return nil, errors.NotSupportedf("catalog store %s", log.RedactDBURL(path))
	}
	storage.ApplySQLPool(catalog.client, storage.NewOptions(
		storage.WithMaxOpenConns(cfg.MaxOpenConns),
		storage.WithMaxIdleConns(cfg.MaxIdleConns),
		storage.WithConnMaxLifetime(cfg.ConnMaxLifetime),
	))
	if cfg.CacheSize > 0 {
		catalog.cache = ttlcache.New[int64, Item](
			ttlcache.WithTTL[int64, Item](cfg.CacheTTL),
			ttlcache.WithCapacity[int64, Item](uint64(cfg.CacheSize)),
			ttlcache.WithDisableTouchOnHit[int64, Item](),
		)
		go catalog.cache.Start()
	}
	return catalog, nil
}

// Close stops the record cache and releases the connection pool.
func (c *Catalog) Close() error {
	if c.cache != nil {
		c.cache.Stop()
	}
	return c.client.Close()
}

// Ping checks the connection to the database.
func (c *Catalog) Ping(ctx context.Context) error {
	return errors.Trace(c.client.PingContext(ctx))
}

// DB exposes the underlying gorm handle, mostly for provisioning fixtures.
func (c *Catalog) DB() *gorm.DB {
	return c.gormDB
}

// BatchGetItems returns the records of the given item ids in the same order. Ids absent
// from the catalog are dropped, so the result can be shorter than the input.
func (c *Catalog) BatchGetItems(ctx context.Context, itemIds []int64) ([]Item, error) {
	start := time.Now()
	defer func() { BatchGetItemsSeconds.Observe(time.Since(start).Seconds()) }()
	found := make(map[int64]Item, len(itemIds))
	var missing []int64
	for _, itemId := range lo.Uniq(itemIds) {
		if c.cache != nil {
			if entry := c.cache.Get(itemId); entry != nil {
				CacheHitTotal.Inc()
				found[itemId] = entry.Value()
				continue
			}
			CacheMissTotal.Inc()
		}
		missing = append(missing, itemId)
	}
	if len(missing) > 0 {
		var rows []map[string]any
		err := c.gormDB.WithContext(ctx).Table(c.itemsTable).
			Where(clause.IN{Column: clause.Column{Name: c.itemIdColumn}, Values: lo.ToAnySlice(missing)}).
			Find(&rows).Error
		if err != nil {
			return nil, errors.Trace(err)
		}
		for _, row := range rows {
			itemId, ok := ToInt64(row[c.itemIdColumn])
			if !ok {
				log.Logger().Warn("skip item with invalid id", zap.Any("id", row[c.itemIdColumn]))
				continue
			}
			item := c.normalize(row)
			found[itemId] = item
			if c.cache != nil {
				c.cache.Set(itemId, item, ttlcache.DefaultTTL)
			}
		}
	}
	items := make([]Item, 0, len(itemIds))
	for _, itemId := range itemIds {
		if item, ok := found[itemId]; ok {
			items = append(items, maps.Clone(item))
		}
	}
	return items, nil
}

// GetItem returns the record of an item.
func (c *Catalog) GetItem(ctx context.Context, itemId int64) (Item, error) {
	start := time.Now()
	defer func() { GetItemSeconds.Observe(time.Since(start).Seconds()) }()
	items, err := c.BatchGetItems(ctx, []int64{itemId})
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(items) == 0 {
		return nil, errors.NotFoundf("item %d", itemId)
	}
	return items[0], nil
}

// GetItems returns a page of items. Pages start from 1.
func (c *Catalog) GetItems(ctx context.Context, page, size int) ([]Item, error) {
	if page < 1 || size < 1 {
		return nil, errors.NotValidf("page %d of size %d", page, size)
	}
	var rows []map[string]any
	err := c.gormDB.WithContext(ctx).Table(c.itemsTable).
		Order(clause.OrderByColumn{Column: clause.Column{Name: c.itemIdColumn}}).
		Limit(size).Offset((page - 1) * size).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Trace(err)
	}
	return lo.Map(rows, func(row map[string]any, _ int) Item {
		return c.normalize(row)
	}), nil
}

// RandomItems draws n items uniformly at random.
func (c *Catalog) RandomItems(ctx context.Context, n int) ([]Item, error) {
	// gorm drops a zero limit
	if n <= 0 {
		return []Item{}, nil
	}
	start := time.Now()
	defer func() { RandomItemsSeconds.Observe(time.Since(start).Seconds()) }()
	random := "RANDOM()"
	if c.driver == MySQL {
		random = "RAND()"
	}
	var rows []map[string]any
	err := c.gormDB.WithContext(ctx).Table(c.itemsTable).
		Order(random).
		Limit(n).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Trace(err)
	}
	return lo.Map(rows, func(row map[string]any, _ int) Item {
		return c.normalize(row)
	}), nil
}

// AllItemIds returns the ids of all items in the catalog.
func (c *Catalog) AllItemIds(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := c.gormDB.WithContext(ctx).Table(c.itemsTable).
		Order(clause.OrderByColumn{Column: clause.Column{Name: c.itemIdColumn}}).
		Pluck(c.itemIdColumn, &ids).Error
	if err != nil {
		return nil, errors.Trace(err)
	}
	return ids, nil
}

// GetUsers returns all user profiles.
func (c *Catalog) GetUsers(ctx context.Context) ([]User, error) {
	var rows []map[string]any
	err := c.gormDB.WithContext(ctx).Table(c.usersTable).
		Order(clause.OrderByColumn{Column: clause.Column{Name: c.userIdColumn}}).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Trace(err)
	}
	return lo.Map(rows, func(row map[string]any, _ int) User {
		return User(c.normalize(row))
	}), nil
}

// GetUser returns a user profile together with the records of the purchase history,
// which keep the order and duplicates of the history. An unparsable history is
// treated as empty.
func (c *Catalog) GetUser(ctx context.Context, userId int64) (User, []Item, error) {
	start := time.Now()
	defer func() { GetUserSeconds.Observe(time.Since(start).Seconds()) }()
	var rows []map[string]any
	err := c.gormDB.WithContext(ctx).Table(c.usersTable).
		Where(clause.Eq{Column: clause.Column{Name: c.userIdColumn}, Value: userId}).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	if len(rows) == 0 {
		return nil, nil, errors.NotFoundf("user %d", userId)
	}
	user := User(c.normalize(rows[0]))
	history, err := ParseHistory(user[c.historyColumn])
	if err != nil {
		log.Logger().Debug("failed to parse purchase history",
			zap.Int64("user_id", userId), zap.Error(err))
		history = nil
	}
	if len(history) == 0 {
		return user, []Item{}, nil
	}
	items, err := c.BatchGetItems(ctx, history)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	return user, items, nil
}

// normalize converts raw column values into JSON friendly values.
func (c *Catalog) normalize(row map[string]any) Item {
	item := make(Item, len(row))
	for k, v := range row {
		switch value := v.(type) {
		case []byte:
			item[k] = string(value)
		default:
			item[k] = value
		}
	}
	// MySQL may return identifiers as bytes or unsigned integers.
	for _, column := range []string{c.itemIdColumn, c.userIdColumn} {
		if v, exist := item[column]; exist {
			if id, ok := ToInt64(v); ok {
				item[column] = id
			}
		}
	}
	return item
}

// ParseHistory parses a purchase history stored as a list, tuple or set literal of
// item ids.
func ParseHistory(raw any) ([]int64, error) {
	var text string
	switch value := raw.(type) {
	case nil:
		return nil, nil
	case string:
		text = value
	case []byte:
		text = string(value)
	case []int64:
		return value, nil
	default:
		return nil, errors.NotValidf("purchase history of type %T", raw)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	literal, ok := historyLiteral(text)
	if !ok {
		return nil, errors.NotValidf("purchase history %q", text)
	}
	var values []json.Number
	if err := json.UnmarshalNumbers([]byte(literal), &values); err != nil {
		return nil, errors.NotValidf("purchase history %q", text)
	}
	history := make([]int64, 0, len(values))
	for _, value := range values {
		id, err := value.Int64()
		if err != nil {
			return nil, errors.NotValidf("item id %q in purchase history", value.String())
		}
		history = append(history, id)
	}
	return history, nil
}

var trailingComma = regexp.MustCompile(`,\s*]$`)

// historyLiteral rewrites a list, tuple or set literal of ids, such as "(1, 2,)" or
// "{1, 2}", into a JSON array. A parenthesized value without a comma is a scalar,
// not a tuple.
func historyLiteral(text string) (string, bool) {
	if len(text) >= 2 {
		first, last := text[0], text[len(text)-1]
		inner := strings.TrimSpace(text[1 : len(text)-1])
		switch {
		case first == '(' && last == ')':
			if inner != "" && !strings.Contains(inner, ",") {
				return "", false
			}
			text = "[" + inner + "]"
		case first == '{' && last == '}':
			text = "[" + inner + "]"
		}
	}
	return trailingComma.ReplaceAllString(text, "]"), true
}

// ToInt64 converts a column value into an integer id.
func ToInt64(v any) (int64, bool) {
	switch value := v.(type) {
	case int64:
		return value, true
	case int:
		return int64(value), true
	case int32:
		return int64(value), true
	case uint64:
		return int64(value), true
	case uint32:
		return int64(value), true
	case float64:
		return int64(value), value == float64(int64(value))
	case []byte:
		id, err := strconv.ParseInt(string(value), 10, 64)
		return id, err == nil
	case string:
		id, err := strconv.ParseInt(value, 10, 64)
		return id, err == nil
	}
	return 0, false
}
