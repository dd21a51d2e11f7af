/*
包 server 提供 HTTP/HTTPS 服务器生命周期管理，支持非阻塞启动、
优雅关闭与系统信号监听。

# 核心类型

  - Manager：封装 net/http.Server，持有监听器与异步错误通道，
    提供 Start/StartTLS/Shutdown/WaitForShutdown 生命周期方法。

# 主要能力

  - 非阻塞启动：Start/StartTLS 在后台 goroutine 中运行服务。
  - 优雅关闭：Shutdown 在配置的超时内完成请求排空。
  - 信号监听：WaitForShutdown 监听 SIGINT/SIGTERM 后自动关闭。
  - 错误传播：Errors() 返回异步错误通道供调用方监控。
*/
package server
