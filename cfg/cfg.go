// Package cfg 将配置文件加载到带有 cfg/def/validate 标签的 Options 结构体中
package cfg

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Format 配置文件格式
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
	FormatINI  Format = "ini"
)

// FormatOf 根据文件扩展名推断配置格式
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".toml":
		return FormatTOML, nil
	case ".ini":
		return FormatINI, nil
	default:
		return "", errors.Errorf("unsupported config file extension %q", filepath.Ext(path))
	}
}

// Load 读取配置文件并填充 object，随后设置默认值并校验
func Load(path string, object any) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read config file %s failed", path)
	}
	return errors.WithMessagef(LoadBytes(data, format, object), "load config file %s failed", path)
}

// LoadBytes 从内存数据加载配置
func LoadBytes(data []byte, format Format, object any) error {
	tree, err := decode(data, format)
	if err != nil {
		return err
	}
	if err := ConvertTo(tree, object); err != nil {
		return errors.WithMessage(err, "convert config failed")
	}
	if err := SetDefaults(object); err != nil {
		return errors.WithMessage(err, "set defaults failed")
	}
	if err := Validate(object); err != nil {
		return errors.WithMessage(err, "validate config failed")
	}
	return nil
}
