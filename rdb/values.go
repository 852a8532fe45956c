package rdb

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var datetimeLayouts = []string{
	timeLayout,
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func toString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

func isZero(value any) bool {
	if value == nil {
		return true
	}
	rv := reflect.ValueOf(value)
	return rv.IsZero()
}

func toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case uint:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, errors.Errorf("%v is not an integer", v)
		}
		return int64(v), nil
	case float32:
		return toInt64(float64(v))
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		f, err := v.Float64()
		if err != nil {
			return 0, errors.Wrapf(err, "parse %q", v)
		}
		return toInt64(f)
	case string, []byte:
		s := strings.TrimSpace(toString(v))
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "parse %q", s)
		}
		return toInt64(f)
	default:
		return 0, errors.Errorf("cannot convert %T to int64", value)
	}
}

func toFloat64(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string, []byte:
		f, err := strconv.ParseFloat(strings.TrimSpace(toString(v)), 64)
		if err != nil {
			return 0, errors.Wrapf(err, "parse %q", toString(v))
		}
		return f, nil
	default:
		i, err := toInt64(value)
		if err != nil {
			return 0, errors.Errorf("cannot convert %T to float64", value)
		}
		return float64(i), nil
	}
}

func toBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string, []byte:
		return strconv.ParseBool(strings.TrimSpace(toString(v)))
	default:
		i, err := toInt64(value)
		if err != nil {
			return false, errors.Errorf("cannot convert %T to bool", value)
		}
		return i != 0, nil
	}
}

// toTime 兼容驱动返回的字符串、字节、unix 秒以及 time.Time，结果统一为 UTC
func toTime(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC(), nil
	case *time.Time:
		if v == nil {
			return time.Time{}, errors.New("nil time")
		}
		return v.UTC(), nil
	case string, []byte:
		s := strings.TrimSpace(toString(v))
		for _, layout := range datetimeLayouts {
			if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, errors.Errorf("cannot parse %q as datetime", s)
	case float64:
		sec, frac := math.Modf(v)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, errors.Wrapf(err, "parse %q", v)
		}
		return toTime(f)
	default:
		i, err := toInt64(value)
		if err != nil {
			return time.Time{}, errors.Errorf("cannot convert %T to time", value)
		}
		return time.Unix(i, 0).UTC(), nil
	}
}

// coerce 按字段类别转换读出的值，nil 保持不变
func coerce(field *Field, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch field.Kind() {
	case KindInteger:
		return toInt64(value)
	case KindDecimal:
		return toFloat64(value)
	case KindString:
		return toString(value), nil
	case KindDatetime:
		return toTime(value)
	case KindBool:
		return toBool(value)
	default:
		if b, ok := value.([]byte); ok {
			return append([]byte(nil), b...), nil
		}
		return value, nil
	}
}
