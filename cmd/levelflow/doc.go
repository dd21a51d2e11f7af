/*
包 main 提供 LevelFlow 服务端程序入口。

# 概述

cmd/levelflow 是 LevelFlow 的可执行入口，提供 HTTP API 服务、
数据库迁移、健康检查和版本查询等子命令。程序支持 YAML 配置文件加载、
结构化日志（zap）、Prometheus 指标采集与 OpenTelemetry 追踪。

# 核心类型

  - Server     — 主服务器，组装编排器、路由与中间件链并管理优雅关闭
  - Middleware — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve（启动服务）、migrate（数据库迁移）、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    MetricsMiddleware、OTelTracing（可选）、RateLimiter（基于 IP，可选）
  - WebSocket 执行日志流：/v1/runs/{id}/stream
  - 优雅关闭：信号监听 → 关闭 HTTP → 关闭编排器 → 关闭遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
