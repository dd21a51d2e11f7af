/*
包 migration 提供数据库 Schema 迁移管理，基于 golang-migrate 实现，
支持 PostgreSQL、MySQL 与 SQLite 三种后端。

# 概述

本包通过 embed.FS 内嵌各方言的 SQL 迁移文件（workflows、triggers、
workflow_runs 三张表），结合 golang-migrate 引擎实现版本化的 Schema
变更。支持正向迁移、回滚、按步执行、跳转到指定版本与强制设置版本号。

# 核心类型

  - Migrator：迁移器接口，定义 Up/Down/DownAll/Steps/Goto/Force/
    Version/Status/Info/Close 完整操作集。
  - SchemaMigrator：Migrator 的默认实现，封装 golang-migrate 实例。
  - Config：迁移配置（方言、连接 URL、版本表名、锁超时）。
  - CLI：migrate 子命令的交互层，格式化输出迁移结果。

# 工厂函数

NewMigratorFromConfig / NewMigratorFromStorageConfig 从应用配置创建
迁移器；NewMigratorFromURL 直接从连接 URL 创建。memory 与 redis
后端没有 Schema，不适用本包。
*/
package migration
