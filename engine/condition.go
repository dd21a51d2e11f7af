package engine

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"strings"

	"github.com/levelflow/levelflow/types"
)

// 条件表达式是合法的 Go 布尔表达式，变量通过选择器路径引用累积上下文：
//
//	agent.<id>.success          该 Agent 是否成功
//	agent.<id>.data.<key>       该 Agent 输出中的字段
//	state.<key>                 累积状态
//	event.<key>                 触发事件载荷
//
// 支持 && || ! == != < <= > >= 与括号、字符串 / 数字 / 布尔字面量。
// 未知引用求值为 nil（假值），不报错；语法错误在工作流保存时被拒绝。

// ValidateCondition 只做语法与节点白名单检查，供工作流保存路径使用。
func ValidateCondition(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return types.NewError(types.ErrInvalidCondition, "condition is empty")
	}
	node, err := parser.ParseExpr(expr)
	if err != nil {
		return types.WrapError(types.ErrInvalidCondition, "parse condition "+strconv.Quote(expr), err)
	}
	return checkNode(node)
}

func checkNode(node ast.Expr) error {
	switch n := node.(type) {
	case *ast.BinaryExpr:
		switch n.Op {
		case token.LAND, token.LOR, token.EQL, token.NEQ, token.LSS, token.LEQ, token.GTR, token.GEQ:
		default:
			return types.NewError(types.ErrInvalidCondition, "unsupported operator "+n.Op.String())
		}
		if err := checkNode(n.X); err != nil {
			return err
		}
		return checkNode(n.Y)
	case *ast.UnaryExpr:
		if n.Op != token.NOT {
			return types.NewError(types.ErrInvalidCondition, "unsupported unary operator "+n.Op.String())
		}
		return checkNode(n.X)
	case *ast.ParenExpr:
		return checkNode(n.X)
	case *ast.SelectorExpr:
		return checkNode(n.X)
	case *ast.Ident:
		return nil
	case *ast.BasicLit:
		switch n.Kind {
		case token.STRING, token.INT, token.FLOAT:
			return nil
		}
		return types.NewError(types.ErrInvalidCondition, "unsupported literal "+n.Value)
	}
	return types.NewError(types.ErrInvalidCondition, fmt.Sprintf("unsupported expression node %T", node))
}

// EvalCondition 对条件表达式求值。表达式应当已通过 ValidateCondition；
// 运行期解析失败仍返回错误而不是崩溃。
func EvalCondition(expr string, vars map[string]any) (bool, error) {
	node, err := parser.ParseExpr(expr)
	if err != nil {
		return false, types.WrapError(types.ErrInvalidCondition, "parse condition", err)
	}
	val, err := evalNode(node, vars)
	if err != nil {
		return false, err
	}
	return truthy(val), nil
}

func evalNode(node ast.Expr, vars map[string]any) (any, error) {
	switch n := node.(type) {
	case *ast.ParenExpr:
		return evalNode(n.X, vars)

	case *ast.UnaryExpr:
		val, err := evalNode(n.X, vars)
		if err != nil {
			return nil, err
		}
		return !truthy(val), nil

	case *ast.BinaryExpr:
		return evalBinary(n, vars)

	case *ast.Ident:
		switch n.Name {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "nil":
			return nil, nil
		}
		return vars[n.Name], nil

	case *ast.SelectorExpr:
		base, err := evalNode(n.X, vars)
		if err != nil {
			return nil, err
		}
		if m, ok := base.(map[string]any); ok {
			return m[n.Sel.Name], nil
		}
		// 未知引用求值为 nil，条件为假但不中断执行
		return nil, nil

	case *ast.BasicLit:
		switch n.Kind {
		case token.STRING:
			return strconv.Unquote(n.Value)
		case token.INT, token.FLOAT:
			return strconv.ParseFloat(n.Value, 64)
		}
		return nil, types.NewError(types.ErrInvalidCondition, "unsupported literal "+n.Value)
	}
	return nil, types.NewError(types.ErrInvalidCondition, fmt.Sprintf("unsupported expression node %T", node))
}

func evalBinary(n *ast.BinaryExpr, vars map[string]any) (any, error) {
	// 短路求值
	if n.Op == token.LAND || n.Op == token.LOR {
		left, err := evalNode(n.X, vars)
		if err != nil {
			return nil, err
		}
		if n.Op == token.LAND && !truthy(left) {
			return false, nil
		}
		if n.Op == token.LOR && truthy(left) {
			return true, nil
		}
		right, err := evalNode(n.Y, vars)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	}

	left, err := evalNode(n.X, vars)
	if err != nil {
		return nil, err
	}
	right, err := evalNode(n.Y, vars)
	if err != nil {
		return nil, err
	}

	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if lok && rok {
		switch n.Op {
		case token.EQL:
			return lf == rf, nil
		case token.NEQ:
			return lf != rf, nil
		case token.LSS:
			return lf < rf, nil
		case token.LEQ:
			return lf <= rf, nil
		case token.GTR:
			return lf > rf, nil
		case token.GEQ:
			return lf >= rf, nil
		}
	}

	switch n.Op {
	case token.EQL:
		return fmt.Sprint(left) == fmt.Sprint(right), nil
	case token.NEQ:
		return fmt.Sprint(left) != fmt.Sprint(right), nil
	}
	return nil, types.NewError(types.ErrInvalidCondition,
		fmt.Sprintf("operator %s requires numeric operands", n.Op))
}

// truthy 空值 / 零值 / 空串为假，其余为真。
func truthy(val any) bool {
	switch v := val.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	default:
		if f, ok := toFloat(val); ok {
			return f != 0
		}
		return true
	}
}

func toFloat(val any) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	}
	return 0, false
}
