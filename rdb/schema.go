package rdb

import (
	"context"
	"strings"

	"github.com/hatlonely/rdbx/log"
	"github.com/pkg/errors"
)

type SyncOutcome string

const (
	SyncCreated   SyncOutcome = "created"
	SyncUpToDate  SyncOutcome = "up-to-date"
	SyncRecreated SyncOutcome = "re-created"
	SyncOutDated  SyncOutcome = "out-of-date"
	SyncFailed    SyncOutcome = "failed"
)

// Executor 同步表结构所需的最小执行能力，Driver 和 Database 都满足
type Executor interface {
	Query(ctx context.Context, sql string) ([]map[string]any, error)
	Exec(ctx context.Context, sql string) (int64, error)
}

// Synchronizer 对比模型渲染出的建表语句和线上表定义，决定建表、跳过、重建或告警
type Synchronizer struct {
	dialect  Dialect
	charset  string
	executor Executor
	logger   log.Logger
}

func NewSynchronizer(dialect Dialect, charset string, executor Executor, logger log.Logger) *Synchronizer {
	return &Synchronizer{
		dialect:  dialect,
		charset:  charset,
		executor: executor,
		logger:   log.OrDefault(logger).With("component", "sync"),
	}
}

// Render 生成规范的建表语句
func (s *Synchronizer) Render(model *Model) string {
	lines := make([]string, 0, len(model.fieldList)+1)
	var primaryKeys []string
	for _, field := range model.fieldList {
		lines = append(lines, s.dialect.ColumnDefinition(field))
		if field.Primary {
			primaryKeys = append(primaryKeys, field.Column)
		}
	}
	if len(primaryKeys) > 0 {
		lines = append(lines, "PRIMARY KEY (`"+strings.Join(primaryKeys, "`,`")+"`)")
	}
	lines = append(lines, s.dialect.KeyClauses(model)...)

	return "CREATE TABLE `" + model.Table + "` (\n  " +
		strings.Join(lines, ",\n  ") +
		"\n)" + s.dialect.CreateTableSuffix(s.charset)
}

// LiveDDL 读取线上的建表语句，表不存在时返回空串
func (s *Synchronizer) LiveDDL(ctx context.Context, model *Model) (string, error) {
	rows, err := s.executor.Query(ctx, s.dialect.LiveDDLQuery(model.Table))
	if err != nil {
		if s.dialect.IsMissingTable(err) {
			return "", nil
		}
		return "", errors.WithMessagef(err, "failed to read definition of table %s", model.Table)
	}
	return s.dialect.LiveDDL(rows), nil
}

func (s *Synchronizer) Synchronize(ctx context.Context, model *Model) (SyncOutcome, error) {
	logger := s.logger.With("table", model.Table)
	canonical := s.Render(model)

	live, err := s.LiveDDL(ctx, model)
	if err != nil {
		logger.ErrorContext(ctx, "failed to read live table definition", "error", err)
		return SyncFailed, err
	}

	if live == "" {
		if err := s.create(ctx, model, canonical); err != nil {
			logger.ErrorContext(ctx, "failed to create table", "sql", canonical, "error", err)
			return SyncFailed, err
		}
		logger.InfoContext(ctx, "created table")
		return SyncCreated, nil
	}

	if s.dialect.NormalizeDDL(canonical) == s.dialect.NormalizeDDL(live) {
		logger.DebugContext(ctx, "table is up-to-date")
		return SyncUpToDate, nil
	}

	if !model.ForceSync {
		logger.WarnContext(ctx, "table is out of date", "declared", canonical, "live", live)
		return SyncOutDated, nil
	}

	logger.WarnContext(ctx, "dropping out of date table, all rows will be lost", "declared", canonical, "live", live)
	if _, err := s.executor.Exec(ctx, "DROP TABLE `"+model.Table+"`"); err != nil {
		logger.ErrorContext(ctx, "failed to drop table", "error", err)
		return SyncFailed, errors.WithMessagef(err, "failed to drop table %s", model.Table)
	}
	if err := s.create(ctx, model, canonical); err != nil {
		logger.ErrorContext(ctx, "failed to re-create table", "sql", canonical, "error", err)
		return SyncFailed, err
	}
	logger.InfoContext(ctx, "dropped and re-created table")
	return SyncRecreated, nil
}

func (s *Synchronizer) create(ctx context.Context, model *Model, canonical string) error {
	if _, err := s.executor.Exec(ctx, canonical); err != nil {
		return errors.WithMessagef(err, "failed to create table %s", model.Table)
	}
	for _, statement := range s.dialect.IndexStatements(model) {
		if _, err := s.executor.Exec(ctx, statement); err != nil {
			return errors.WithMessagef(err, "failed to create index on %s", model.Table)
		}
	}
	if len(model.FullTextIndexes) > 0 && s.dialect.Type() != DialectMySQL {
		s.logger.WarnContext(ctx, "full text indexes are not supported by dialect, skipped",
			"table", model.Table, "dialect", string(s.dialect.Type()))
	}
	return nil
}
