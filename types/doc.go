/*
Package types 提供 LevelFlow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 trigger、engine、service、
storage、api 等上层模块提供统一的类型契约。所有跨包共享的结构体、枚举和
错误码均定义于此，以避免循环依赖。

# 核心类型

  - Event              — 触发器产生的规范事件信封（一经创建不可变）
  - EventTrigger       — 工作流与触发器种类的声明式绑定（封闭的标签变体）
  - WorkflowConfig     — 工作流定义（根 Agent + 有序层级）
  - AgentLevel         — 单个层级（parallel / conditional 执行模式）
  - AgentConfig        — Agent 配置（模型、提示词、温度等）
  - AgentResponse      — Agent 执行结果（成功 / 失败 + 数据）
  - WorkflowExecution  — 单次运行状态（pending → running → 终态）
  - Error / ErrorCode  — 结构化错误体系，含 HTTP 状态码与 Retryable 标记

# 主要能力

  - Context 传播：WithTraceID / WithRunID / WithWorkflowID 等
  - 状态机校验：ExecutionStatus.CanTransition 保证非法状态迁移被拒绝
  - 触发器校验：EventTrigger.Validate 对每种触发器种类做穷尽检查
*/
package types
