package rdb

import (
	"context"
	"time"

	"github.com/hatlonely/rdbx/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Metrics 封装 prometheus 指标
type Metrics struct {
	queryCounter   *prometheus.CounterVec
	queryDuration  *prometheus.HistogramVec
	activeQueries  *prometheus.GaugeVec
	syncCounter    *prometheus.CounterVec
	connectCounter *prometheus.CounterVec

	namespace  string
	registerer prometheus.Registerer
}

// NewMetrics 创建并注册指标，同名指标已注册时复用已有的
func NewMetrics(namespace string, registerer prometheus.Registerer) (*Metrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &Metrics{namespace: namespace, registerer: registerer}

	var err error
	if m.queryCounter, err = register(registerer, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total number of statements sent to the driver",
		},
		[]string{"dialect", "operation", "status"},
	)); err != nil {
		return nil, err
	}
	if m.queryDuration, err = register(registerer, prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Duration of driver round trips in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"dialect", "operation"},
	)); err != nil {
		return nil, err
	}
	if m.activeQueries, err = register(registerer, prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_queries",
			Help:      "Number of statements waiting for the driver",
		},
		[]string{"dialect"},
	)); err != nil {
		return nil, err
	}
	if m.syncCounter, err = register(registerer, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_total",
			Help:      "Schema synchronization outcomes",
		},
		[]string{"table", "outcome"},
	)); err != nil {
		return nil, err
	}
	if m.connectCounter, err = register(registerer, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Connection attempts by status",
		},
		[]string{"status"},
	)); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](registerer prometheus.Registerer, collector C) (C, error) {
	if err := registerer.Register(collector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return collector, errors.Wrap(err, "register metric")
	}
	return collector, nil
}

func (m *Metrics) observeSync(table string, outcome SyncOutcome) {
	if m == nil {
		return
	}
	m.syncCounter.WithLabelValues(table, string(outcome)).Inc()
}

func (m *Metrics) observeConnect(err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.connectCounter.WithLabelValues(status).Inc()
}

// RegisterPending 暴露 worker 通道中等待响应的请求数
func (m *Metrics) RegisterPending(pending func() int) error {
	if m == nil {
		return nil
	}
	_, err := register(m.registerer, prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Name:      "pending_requests",
			Help:      "Requests sent to the worker without a response",
		},
		func() float64 { return float64(pending()) },
	))
	return err
}

// ObservableDriver 装饰器，为任意 Driver 添加指标、追踪和调试日志
type ObservableDriver struct {
	driver  Driver
	dialect string
	logger  log.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

// NewObservableDriver metrics 为 nil 时不收集指标，enableTracing 为 false 时不创建 span
func NewObservableDriver(driver Driver, dialect DialectType, metrics *Metrics, enableTracing bool, logger log.Logger) *ObservableDriver {
	obs := &ObservableDriver{
		driver:  driver,
		dialect: string(dialect),
		logger:  log.OrDefault(logger).WithGroup("driver"),
		metrics: metrics,
	}
	if enableTracing {
		obs.tracer = otel.Tracer("rdbx")
	}
	return obs
}

// Unwrap 返回被包装的驱动
func (obs *ObservableDriver) Unwrap() Driver {
	return obs.driver
}

func (obs *ObservableDriver) observe(ctx context.Context, operation string, statement string, fn func(context.Context) error) error {
	start := time.Now()

	var span trace.Span
	if obs.tracer != nil {
		ctx, span = obs.tracer.Start(ctx, "rdb."+operation,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("db.system", obs.dialect),
				attribute.String("db.operation", operation),
				attribute.String("db.statement", statement),
			),
		)
		defer span.End()
	}

	if obs.metrics != nil {
		obs.metrics.activeQueries.WithLabelValues(obs.dialect).Inc()
		defer obs.metrics.activeQueries.WithLabelValues(obs.dialect).Dec()
	}

	err := fn(ctx)
	duration := time.Since(start)

	if span != nil {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}

	if obs.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		obs.metrics.queryCounter.WithLabelValues(obs.dialect, operation, status).Inc()
		obs.metrics.queryDuration.WithLabelValues(obs.dialect, operation).Observe(duration.Seconds())
	}

	if err != nil {
		obs.logger.DebugContext(ctx, "statement failed", "operation", operation, "sql", statement, "duration", duration, "error", err)
	} else {
		obs.logger.DebugContext(ctx, "statement done", "operation", operation, "sql", statement, "duration", duration)
	}
	return err
}

func (obs *ObservableDriver) Connect(ctx context.Context) error {
	return obs.observe(ctx, "connect", "", obs.driver.Connect)
}

func (obs *ObservableDriver) Query(ctx context.Context, statement string) ([]map[string]any, error) {
	var rows []map[string]any
	err := obs.observe(ctx, "query", statement, func(ctx context.Context) error {
		var err error
		rows, err = obs.driver.Query(ctx, statement)
		return err
	})
	return rows, err
}

func (obs *ObservableDriver) Exec(ctx context.Context, statement string) (int64, error) {
	var affected int64
	err := obs.observe(ctx, "exec", statement, func(ctx context.Context) error {
		var err error
		affected, err = obs.driver.Exec(ctx, statement)
		return err
	})
	return affected, err
}

func (obs *ObservableDriver) Insert(ctx context.Context, statement string) (int64, error) {
	var id int64
	err := obs.observe(ctx, "insert", statement, func(ctx context.Context) error {
		var err error
		id, err = obs.driver.Insert(ctx, statement)
		return err
	})
	return id, err
}

func (obs *ObservableDriver) Close() error {
	return obs.driver.Close()
}
