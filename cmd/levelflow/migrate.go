package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/levelflow/levelflow/config"
	"github.com/levelflow/levelflow/internal/migration"
)

// =============================================================================
// 🗄️ migrate 子命令
// =============================================================================

// runMigrate 分发 migrate 子命令
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	sub, subargs := args[0], args[1:]

	switch sub {
	case "up":
		withCLI("migrate up", subargs, func(ctx context.Context, cli *migration.CLI) error {
			return cli.RunUp(ctx)
		})
	case "down":
		runMigrateDown(subargs)
	case "status":
		withCLI("migrate status", subargs, func(ctx context.Context, cli *migration.CLI) error {
			return cli.RunStatus(ctx)
		})
	case "version":
		withCLI("migrate version", subargs, func(ctx context.Context, cli *migration.CLI) error {
			return cli.RunVersion(ctx)
		})
	case "goto":
		runMigrateGoto(subargs)
	case "force":
		runMigrateForce(subargs)
	case "reset":
		withCLI("migrate reset", subargs, func(ctx context.Context, cli *migration.CLI) error {
			return cli.RunDownAll(ctx)
		})
	case "help", "-h", "--help":
		printMigrateUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", sub)
		printMigrateUsage()
		os.Exit(1)
	}
}

func printMigrateUsage() {
	fmt.Println(`Schema Migration Commands

Usage:
  levelflow migrate <subcommand> [options]

Subcommands:
  up        Apply all pending migrations
  down      Rollback the last migration (--all rolls back everything)
  status    Show migration status
  version   Show current migration version
  goto      Migrate to a specific version
  force     Force set migration version (use with caution)
  reset     Rollback all migrations
  help      Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Storage type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  levelflow migrate up
  levelflow migrate up --config /etc/levelflow/config.yaml
  levelflow migrate down --all
  levelflow migrate status
  levelflow migrate goto 1
  levelflow migrate force 0`)
}

// createMigrator 按命令行标志构建迁移器。同时给出 --db-type 和 --db-url
// 时直连数据库，否则走配置文件（--db-type 可单独覆盖配置里的存储类型）。
func createMigrator(fs *flag.FlagSet, args []string) (*migration.SchemaMigrator, error) {
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Storage type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *dbType != "" && *dbURL != "" {
		return migration.NewMigratorFromURL(*dbType, *dbURL)
	}

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if *dbType != "" {
		cfg.Storage.Type = *dbType
	}

	return migration.NewMigratorFromConfig(cfg)
}

// withCLI 处理迁移器构建与关闭的公共样板，失败时带消息退出。
func withCLI(name string, args []string, run func(context.Context, *migration.CLI) error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	migrator, err := createMigrator(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	if err := run(context.Background(), migration.NewCLI(migrator)); err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", name, err)
		os.Exit(1)
	}
}

// runMigrateDown 回滚最后一个迁移，--all 回滚全部
func runMigrateDown(args []string) {
	fs := flag.NewFlagSet("migrate down", flag.ExitOnError)
	all := fs.Bool("all", false, "Rollback all migrations")

	migrator, err := createMigrator(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	cli := migration.NewCLI(migrator)
	ctx := context.Background()

	var runErr error
	if *all {
		runErr = cli.RunDownAll(ctx)
	} else {
		runErr = cli.RunDown(ctx)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "migrate down failed: %v\n", runErr)
		os.Exit(1)
	}
}

// runMigrateGoto 迁移到指定版本（版本号是第一个位置参数）
func runMigrateGoto(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: levelflow migrate goto <version>")
		os.Exit(1)
	}
	version, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid version number: %s\n", args[0])
		os.Exit(1)
	}
	withCLI("migrate goto", args[1:], func(ctx context.Context, cli *migration.CLI) error {
		return cli.RunGoto(ctx, uint(version))
	})
}

// runMigrateForce 强制设置版本号（不执行迁移本身，用于修复 dirty 状态）
func runMigrateForce(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: levelflow migrate force <version>")
		os.Exit(1)
	}
	version, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid version number: %s\n", args[0])
		os.Exit(1)
	}
	withCLI("migrate force", args[1:], func(ctx context.Context, cli *migration.CLI) error {
		return cli.RunForce(ctx, int(version))
	})
}
