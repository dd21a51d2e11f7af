// Package stream 通过 WebSocket 推送执行日志。Hub 实现
// engine.ExecutionObserver，把引擎的日志回调扇出给任意数量的订阅者；
// Handler 负责连接升级、缓冲回放与终态收尾。
package stream
