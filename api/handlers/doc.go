/*
包 handlers 提供 REST API 处理器：工作流 CRUD 与手动执行、触发器
注册与注销、执行历史查询与取消、Webhook 投递以及健康与状态探针。

所有处理器共享统一的 Response 响应信封与 types.Error 到 HTTP
状态码的映射。服务实例通过 service.Orchestrator 惰性获取，
首个请求触发单飞初始化。
*/
package handlers
