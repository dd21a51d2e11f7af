/*
Package engine 实现工作流执行引擎。

# 概述

引擎接收一个工作流定义与一个规范事件，按层级序号严格升序执行：
第 0 层（根 Agent）无条件最先执行，随后每个层级按声明的调度模式
（parallel / conditional）派发 Agent，累计执行状态，最终产出一条
终态执行记录并交给存储协作者持久化。

# 状态机

pending → running → {completed | failed | cancelled}

  - pending   执行记录创建时的初始状态
  - running   第 0 层开始时立即进入
  - completed 所有层级执行完毕且无不可恢复错误
  - failed    某层级遇到不可恢复错误（provider 返回 error）
  - cancelled 外部在层级边界前请求取消

# 顺序保证

同一次执行内层级严格升序：第 N+1 层在第 N 层完全结束（包括所有并行
分支）之前绝不开始。不同执行之间没有顺序保证，引擎不串行化无关的运行。

# 失败语义

parallel 层中单个 Agent 失败只标记该槽位失败，不阻塞兄弟 Agent；
conditional（顺序）层中 provider 错误视为不可恢复，执行转入 failed，
剩余层级不再运行，已有执行日志完整保留。引擎不重试失败的 Agent，
重试策略（若有）属于 provider 协作者。
*/
package engine
