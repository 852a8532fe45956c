package rdb

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hatlonely/rdbx/cfg"
	"github.com/hatlonely/rdbx/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

type Option func(*Database)

func WithLogger(logger log.Logger) Option {
	return func(db *Database) {
		db.logger = logger
	}
}

// WithDriver 使用外部提供的驱动，忽略 Options.Driver
func WithDriver(driver Driver) Option {
	return func(db *Database) {
		db.driver = driver
	}
}

func WithSyncOwner(owner SyncOwner) Option {
	return func(db *Database) {
		db.syncOwner = owner
	}
}

func WithRegisterer(registerer prometheus.Registerer) Option {
	return func(db *Database) {
		db.registerer = registerer
	}
}

type Limit struct {
	Offset int
	Count  int
}

type FindOptions struct {
	// Fields 返回的字段，为空时返回全部字段
	Fields  []string
	Filters Filters
	// Where 原样追加到条件末尾的 SQL
	Where string
	Limit *Limit
	// OrderBy 字段名，以 - 开头表示降序
	OrderBy []string
}

// Database 持有一个驱动连接，负责把模型操作翻译成 SQL 并执行
type Database struct {
	options    *Options
	dialect    Dialect
	builder    *ClauseBuilder
	syncer     *Synchronizer
	driver     Driver
	logger     log.Logger
	syncOwner  SyncOwner
	ownsLock   bool
	registerer prometheus.Registerer
	metrics    *Metrics

	ctx    context.Context
	cancel context.CancelFunc

	stateMu    sync.Mutex
	state      State
	connecting chan struct{}
	connectErr error

	modelsMu sync.RWMutex
	models   map[string]*Model
	syncs    map[string]*Future[SyncOutcome]

	syncMu      sync.Mutex
	pendingSync int
	synced      chan struct{}
}

func NewDatabaseWithOptions(options *Options, opts ...Option) (*Database, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}
	if err := cfg.SetDefaults(options); err != nil {
		return nil, errors.WithMessage(err, "failed to set default options")
	}
	if err := cfg.Validate(options); err != nil {
		return nil, errors.WithMessage(err, "invalid options")
	}

	dialect, err := LookupDialect(options.Dialect)
	if err != nil {
		return nil, err
	}

	db := &Database{
		options: options,
		dialect: dialect,
		builder: NewClauseBuilder(dialect),
		models:  map[string]*Model{},
		syncs:   map[string]*Future[SyncOutcome]{},
	}
	for _, opt := range opts {
		opt(db)
	}
	db.logger = log.OrDefault(db.logger).With("component", "rdb", "dialect", string(options.Dialect))

	if db.driver == nil {
		factory, err := lookupDriver(options.driverName())
		if err != nil {
			return nil, err
		}
		if db.driver, err = factory(options, db.logger); err != nil {
			return nil, errors.WithMessage(err, "failed to create driver")
		}
	}

	if options.Metrics.Enable {
		if db.metrics, err = NewMetrics(options.Metrics.Namespace, db.registerer); err != nil {
			return nil, errors.WithMessage(err, "failed to create metrics")
		}
		if p, ok := db.driver.(interface{ Pending() int }); ok {
			if err := db.metrics.RegisterPending(p.Pending); err != nil {
				return nil, errors.WithMessage(err, "failed to register pending gauge")
			}
		}
	}
	if options.Metrics.Enable || options.Tracing.Enable {
		db.driver = NewObservableDriver(db.driver, options.Dialect, db.metrics, options.Tracing.Enable, db.logger)
	}

	if db.syncOwner == nil {
		if options.SyncLock.Enable {
			if db.syncOwner, err = NewRedisSyncOwnerWithOptions(&options.SyncLock); err != nil {
				return nil, errors.WithMessage(err, "failed to create sync lock")
			}
			db.ownsLock = true
		} else {
			db.syncOwner = LocalSyncOwner{Owner: true}
		}
	}

	db.syncer = NewSynchronizer(dialect, options.Charset, db, db.logger)
	db.ctx, db.cancel = context.WithCancel(context.Background())
	return db, nil
}

func (db *Database) Dialect() Dialect {
	return db.dialect
}

func (db *Database) Builder() *ClauseBuilder {
	return db.builder
}

func (db *Database) Synchronizer() *Synchronizer {
	return db.syncer
}

func (db *Database) State() State {
	db.stateMu.Lock()
	defer db.stateMu.Unlock()
	return db.state
}

// Connect 建立连接，失败时按 Retry 配置依次重试；已有连接过程时等待其结果
func (db *Database) Connect(ctx context.Context) error {
	db.stateMu.Lock()
	if db.state == StateConnected {
		db.stateMu.Unlock()
		return nil
	}
	if ch := db.connecting; ch != nil {
		db.stateMu.Unlock()
		return db.waitConnecting(ctx, ch)
	}
	ch := make(chan struct{})
	db.connecting = ch
	db.state = StateConnecting
	db.stateMu.Unlock()

	return db.finishConnect(ch, db.dial(ctx))
}

func (db *Database) waitConnecting(ctx context.Context, ch chan struct{}) error {
	select {
	case <-ch:
	case <-ctx.Done():
		return ctx.Err()
	}
	db.stateMu.Lock()
	defer db.stateMu.Unlock()
	if db.state == StateConnected {
		return nil
	}
	if db.connectErr != nil {
		return db.connectErr
	}
	return ErrNotConnected
}

func (db *Database) finishConnect(ch chan struct{}, err error) error {
	db.stateMu.Lock()
	defer db.stateMu.Unlock()
	if err == nil {
		db.state = StateConnected
	} else {
		db.state = StateDisconnected
	}
	db.connectErr = err
	db.connecting = nil
	close(ch)
	return err
}

// dial 顺序重试，不会并发建立连接
func (db *Database) dial(ctx context.Context) error {
	retry := db.options.Retry
	var lastErr error
	for attempt := 1; attempt <= retry.MaxTries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, retry.Timeout)
		lastErr = db.driver.Connect(attemptCtx)
		cancel()
		db.metrics.observeConnect(lastErr)
		if lastErr == nil {
			db.logger.InfoContext(ctx, "connected", "database", db.options.Name, "attempt", attempt)
			return nil
		}
		db.logger.ErrorContext(ctx, "failed to connect", "database", db.options.Name, "attempt", attempt, "error", lastErr)

		if attempt == retry.MaxTries {
			break
		}
		select {
		case <-time.After(retry.Delay):
		case <-ctx.Done():
			return &ConnectionError{Attempts: attempt, Fatal: true, Cause: ctx.Err()}
		}
	}
	return &ConnectionError{Attempts: retry.MaxTries, Fatal: true, Cause: lastErr}
}

// connectionLost 转入 connecting 并在后台重连，当前调用方收到 ConnectionError
func (db *Database) connectionLost(cause error) error {
	db.stateMu.Lock()
	if db.state == StateConnected {
		ch := make(chan struct{})
		db.connecting = ch
		db.state = StateConnecting
		db.stateMu.Unlock()

		db.logger.Warn("connection lost, reconnecting", "error", cause)
		go func() {
			_ = db.finishConnect(ch, db.dial(db.ctx))
		}()
	} else {
		db.stateMu.Unlock()
	}
	return &ConnectionError{Attempts: 0, Cause: cause}
}

func (db *Database) wrapErr(statement string, err error) error {
	if err == nil {
		return nil
	}
	if db.dialect.IsConnectionLost(err) {
		return db.connectionLost(err)
	}
	return &QueryError{SQL: statement, Cause: err}
}

func (db *Database) Query(ctx context.Context, statement string) ([]map[string]any, error) {
	if err := db.Connect(ctx); err != nil {
		return nil, err
	}
	rows, err := db.driver.Query(ctx, statement)
	if err != nil {
		return nil, db.wrapErr(statement, err)
	}
	return rows, nil
}

func (db *Database) Exec(ctx context.Context, statement string) (int64, error) {
	if err := db.Connect(ctx); err != nil {
		return 0, err
	}
	affected, err := db.driver.Exec(ctx, statement)
	if err != nil {
		return 0, db.wrapErr(statement, err)
	}
	return affected, nil
}

func (db *Database) insert(ctx context.Context, statement string) (int64, error) {
	if err := db.Connect(ctx); err != nil {
		return 0, err
	}
	id, err := db.driver.Insert(ctx, statement)
	if err != nil {
		return 0, db.wrapErr(statement, err)
	}
	return id, nil
}

// FindSQL 生成查询语句，未知字段在发送前返回 ErrUnknownField
func (db *Database) FindSQL(model *Model, options *FindOptions) (string, error) {
	if options == nil {
		options = &FindOptions{}
	}

	var columns []string
	if len(options.Fields) == 0 {
		for _, field := range model.fieldList {
			columns = append(columns, field.AliasExpr)
		}
	} else {
		for _, name := range options.Fields {
			field, ok := model.fields[strings.TrimSpace(name)]
			if !ok {
				return "", unknownField(model, name)
			}
			columns = append(columns, field.AliasExpr)
		}
	}

	where, err := db.builder.WhereClause(model, options.Filters, options.Where)
	if err != nil {
		return "", err
	}

	var orders []string
	for _, name := range options.OrderBy {
		direction := " ASC"
		if strings.HasPrefix(name, "-") {
			name, direction = name[1:], " DESC"
		}
		field, ok := model.fields[name]
		if !ok {
			return "", unknownField(model, name)
		}
		orders = append(orders, "`"+field.Column+"`"+direction)
	}

	statement := "SELECT " + strings.Join(columns, ",") + " FROM `" + model.Table + "` " + where
	if len(orders) > 0 {
		statement += " ORDER BY " + strings.Join(orders, ",")
	}
	return statement + " LIMIT " + db.limit(options.Limit), nil
}

// limit 返回行数不超过 MaxResults
func (db *Database) limit(limit *Limit) string {
	max := db.options.MaxResults
	if limit == nil {
		return strconv.Itoa(max)
	}
	count := limit.Count
	if count <= 0 || count > max {
		count = max
	}
	if limit.Offset > 0 {
		return strconv.Itoa(limit.Offset) + "," + strconv.Itoa(count)
	}
	return strconv.Itoa(count)
}

func (db *Database) Find(ctx context.Context, model *Model, options *FindOptions) ([]*Record, error) {
	statement, err := db.FindSQL(model, options)
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(ctx, statement)
	if err != nil {
		return nil, err
	}

	records := make([]*Record, 0, len(rows))
	for _, row := range rows {
		record, err := db.Decorate(model, row)
		if err != nil {
			return nil, errors.WithMessagef(err, "decorate row of %s", model.Table)
		}
		records = append(records, record)
	}
	return records, nil
}

func (db *Database) Create(ctx context.Context, model *Model, item Item) (*Record, error) {
	statement := db.builder.InsertStatement(model, item)
	id, err := db.insert(ctx, statement)
	if err != nil {
		return nil, err
	}

	data := copyItem(item)
	if pk := model.primary; pk != nil && isZero(data[pk.Name]) && id > 0 {
		data[pk.Name] = id
	}
	return db.Decorate(model, data)
}

// Update 按主键更新，主键本身不会被写入
func (db *Database) Update(ctx context.Context, model *Model, item Item) (*Record, error) {
	pk := model.primary
	if pk == nil {
		return nil, errors.Wrapf(ErrMissingIdentity, "model %q has no primary key", model.Name)
	}
	id, ok := item[pk.Name]
	if !ok || isZero(id) {
		return nil, errors.Wrapf(ErrMissingIdentity, "update %s", model.Table)
	}

	data := copyItem(item)
	delete(data, pk.Name)
	set := db.builder.SetClause(model, data, ModeSave, pk.Name)
	if set == "" {
		return nil, errors.Errorf("nothing to update in %s", model.Table)
	}
	where, err := db.builder.WhereClause(model, Filters{pk.Name: id}, "")
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(ctx, "UPDATE `"+model.Table+"` "+set+" "+where); err != nil {
		return nil, err
	}
	data[pk.Name] = id
	return db.Decorate(model, data)
}

// Delete 返回删除的行数
func (db *Database) Delete(ctx context.Context, model *Model, filters Filters) (int64, error) {
	where, err := db.builder.WhereClause(model, filters, "")
	if err != nil {
		return 0, err
	}
	return db.Exec(ctx, "DELETE FROM `"+model.Table+"` "+where)
}

// Define 构建模型并绑定到数据库，未禁用同步时在后台同步一次表结构
func (db *Database) Define(options *ModelOptions) (*Model, error) {
	model, err := NewModel(options, db.options.ColumnCase, db.options.TableCase)
	if err != nil {
		return nil, err
	}
	model.db = db

	db.modelsMu.Lock()
	if _, ok := db.models[model.Name]; ok {
		db.modelsMu.Unlock()
		return nil, &ConfigurationError{Model: model.Name, Reason: "model already defined"}
	}
	db.models[model.Name] = model
	if !model.DisableSync {
		db.beginSync()
		db.syncs[model.Name] = Go(func() (SyncOutcome, error) {
			defer db.endSync()
			return db.syncIfOwner(db.ctx, model)
		})
	}
	db.modelsMu.Unlock()

	return model, nil
}

func (db *Database) Model(name string) (*Model, bool) {
	db.modelsMu.RLock()
	defer db.modelsMu.RUnlock()
	model, ok := db.models[name]
	return model, ok
}

// DefineResult 返回 Define 触发的后台同步结果
func (db *Database) DefineResult(name string) (*Future[SyncOutcome], bool) {
	db.modelsMu.RLock()
	defer db.modelsMu.RUnlock()
	future, ok := db.syncs[name]
	return future, ok
}

func (db *Database) syncIfOwner(ctx context.Context, model *Model) (SyncOutcome, error) {
	owner, err := db.syncOwner.Acquire(ctx, model.Table)
	if err != nil {
		db.logger.ErrorContext(ctx, "failed to acquire sync ownership", "table", model.Table, "error", err)
		db.metrics.observeSync(model.Table, SyncFailed)
		return SyncFailed, err
	}
	if !owner {
		db.logger.DebugContext(ctx, "not the sync owner, skipped", "table", model.Table)
		return SyncUpToDate, nil
	}
	outcome, err := db.synchronize(ctx, model)
	if releaser, ok := db.syncOwner.(SyncReleaser); ok {
		if rerr := releaser.Release(ctx, model.Table); rerr != nil {
			db.logger.WarnContext(ctx, "failed to release sync ownership", "table", model.Table, "error", rerr)
		}
	}
	return outcome, err
}

func (db *Database) synchronize(ctx context.Context, model *Model) (SyncOutcome, error) {
	outcome, err := db.syncer.Synchronize(ctx, model)
	db.metrics.observeSync(model.Table, outcome)
	return outcome, err
}

// Sync 立即同步一个模型的表结构，不检查同步归属
func (db *Database) Sync(ctx context.Context, model *Model) (SyncOutcome, error) {
	db.beginSync()
	defer db.endSync()
	return db.synchronize(ctx, model)
}

// SyncAll 并发同步所有未禁用同步的模型
func (db *Database) SyncAll(ctx context.Context) (map[string]SyncOutcome, error) {
	db.modelsMu.RLock()
	futures := map[string]*Future[SyncOutcome]{}
	for name, model := range db.models {
		if model.DisableSync {
			continue
		}
		db.beginSync()
		futures[name] = Go(func() (SyncOutcome, error) {
			defer db.endSync()
			return db.synchronize(ctx, model)
		})
	}
	db.modelsMu.RUnlock()

	outcomes := map[string]SyncOutcome{}
	var firstErr error
	for name, future := range futures {
		outcome, err := future.Wait(ctx)
		outcomes[name] = outcome
		if err != nil && firstErr == nil {
			firstErr = errors.WithMessagef(err, "sync model %s", name)
		}
	}
	return outcomes, firstErr
}

func (db *Database) beginSync() {
	db.syncMu.Lock()
	defer db.syncMu.Unlock()
	if db.pendingSync == 0 {
		db.synced = make(chan struct{})
	}
	db.pendingSync++
}

func (db *Database) endSync() {
	db.syncMu.Lock()
	defer db.syncMu.Unlock()
	db.pendingSync--
	if db.pendingSync == 0 {
		close(db.synced)
		db.logger.Info("all models synced")
	}
}

func (db *Database) PendingSyncs() int {
	db.syncMu.Lock()
	defer db.syncMu.Unlock()
	return db.pendingSync
}

// WaitSynced 等待所有进行中的同步结束
func (db *Database) WaitSynced(ctx context.Context) error {
	db.syncMu.Lock()
	if db.pendingSync == 0 {
		db.syncMu.Unlock()
		return nil
	}
	ch := db.synced
	db.syncMu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (db *Database) Close() error {
	db.cancel()

	db.stateMu.Lock()
	db.state = StateDisconnected
	db.stateMu.Unlock()

	var errs []string
	if err := db.driver.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if closer, ok := db.syncOwner.(interface{ Close() error }); ok && db.ownsLock {
		if err := closer.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return errors.Errorf("close database: %s", strings.Join(errs, "; "))
	}
	return nil
}

func copyItem(item Item) Item {
	data := make(Item, len(item))
	for k, v := range item {
		data[k] = v
	}
	return data
}
