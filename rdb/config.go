package rdb

import (
	"github.com/hatlonely/rdbx/cfg"
	"github.com/pkg/errors"
)

// Config 配置文件中的数据库连接和模型定义
type Config struct {
	Database Options         `cfg:"database"`
	Models   []*ModelOptions `cfg:"models" validate:"dive"`
}

// LoadConfig 按扩展名解析 yaml/json/toml/ini 配置文件
func LoadConfig(path string) (*Config, error) {
	var config Config
	if err := cfg.Load(path, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// Open 创建数据库并依次定义配置中的模型
func Open(config *Config, opts ...Option) (*Database, error) {
	if config == nil {
		return nil, errors.New("config is nil")
	}
	db, err := NewDatabaseWithOptions(&config.Database, opts...)
	if err != nil {
		return nil, err
	}
	for _, options := range config.Models {
		if _, err := db.Define(options); err != nil {
			_ = db.Close()
			return nil, errors.WithMessagef(err, "define model %s", options.Name)
		}
	}
	return db, nil
}
