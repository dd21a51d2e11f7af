package migration

import (
	"fmt"

	appconfig "github.com/levelflow/levelflow/config"
)

// NewMigratorFromConfig 从应用配置创建迁移器
func NewMigratorFromConfig(cfg *appconfig.Config) (*SchemaMigrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	return NewMigratorFromStorageConfig(cfg.Storage)
}

// NewMigratorFromStorageConfig 从存储配置创建迁移器。
// memory 与 redis 后端没有 Schema，调用方应在此之前跳过。
func NewMigratorFromStorageConfig(storeCfg appconfig.StorageConfig) (*SchemaMigrator, error) {
	dialect, err := ParseDialect(storeCfg.Type)
	if err != nil {
		return nil, fmt.Errorf("invalid storage type for migration: %w", err)
	}

	var dbURL string
	switch dialect {
	case DialectPostgres:
		dbURL = BuildDatabaseURL(dialect, storeCfg.Host, storeCfg.Port,
			storeCfg.Name, storeCfg.User, storeCfg.Password, storeCfg.SSLMode)
	case DialectMySQL:
		dbURL = BuildDatabaseURL(dialect, storeCfg.Host, storeCfg.Port,
			storeCfg.Name, storeCfg.User, storeCfg.Password, "")
	case DialectSQLite:
		// SQLite 的 DSN 即文件路径
		path := storeCfg.DSN
		if path == "" {
			path = storeCfg.Name
		}
		dbURL = BuildDatabaseURL(dialect, "", 0, path, "", "", "")
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}

	return NewMigrator(&Config{
		Dialect:     dialect,
		DatabaseURL: dbURL,
		TableName:   "schema_migrations",
	})
}

// NewMigratorFromURL 从数据库 URL 创建迁移器
func NewMigratorFromURL(dialect, dbURL string) (*SchemaMigrator, error) {
	d, err := ParseDialect(dialect)
	if err != nil {
		return nil, err
	}

	return NewMigrator(&Config{
		Dialect:     d,
		DatabaseURL: dbURL,
		TableName:   "schema_migrations",
	})
}
