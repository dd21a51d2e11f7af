/*
包 database 提供 SQL 连接池的运行时监控。

# 概述

本包通过 Monitor 周期采样 database/sql 连接池的统计信息
（打开连接数、空闲连接数、等待次数），上报给指标收集器并输出
调试日志。连接池本身的调优（最大连接数、生命周期）由 storage
层在建连时完成，本包只负责观测。

# 核心类型

  - Monitor：后台采样循环，Start/Stop 幂等，Sample 可单次调用。
  - StatsRecorder：采样结果的接收方，internal/metrics.Collector 实现它。

# 主要能力

  - 周期采样：固定间隔读取 sql.DB.Stats() 并上报。
  - 就绪探针：Ping 封装 PingContext，可挂到 /readyz 检查。
*/
package database
