/*
Package trigger 实现触发器适配器与注册中心。

# 概述

每种触发器种类（manual / cron / watch / webhook）对应一个 Adapter 实现，
负责把外部信号转换为规范的 types.Event 并调用注册时提供的回调。
Registry 按种类路由注册 / 注销请求，是工作流订阅与退订的唯一入口。

# 并发约定

  - 各适配器的注册表是唯一被多方并发修改的结构（注册 / 注销与触发竞争），
    全部通过互斥锁串行化；触发路径只读快照，绝不在持锁状态下调用回调。
  - 自动触发（cron / watch / webhook）的回调错误被记录并吞掉，适配器保持
    armed 状态；手动触发的回调结果同步返回给调用方。
  - Stop 撤销全部现存注册，幂等，支持进程优雅关闭。

# 错误约定

配置缺失或不合法在 Register 阶段同步失败，不留半注册状态。
注销不存在的注册不是错误，仅记录一条警告日志。
*/
package trigger
