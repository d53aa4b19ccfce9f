package expr

import (
	"fmt"
	"strings"
	"time"
)

// String renders e in a compact prefix-free form, used in logs and tests:
//
//	(Id le 5)
//	startswith($it/Name, 'Match')
func String(e Expr) string {
	var sb strings.Builder
	write(&sb, e)
	return sb.String()
}

func write(sb *strings.Builder, e Expr) {
	switch n := e.(type) {
	case nil:
		sb.WriteString("<nil>")
	case *Constant:
		writeConstant(sb, n)
	case *Parameter:
		sb.WriteString(n.Name)
	case *Member:
		if p, ok := n.Target.(*Parameter); ok && p.Name == "$it" {
			sb.WriteString(n.Name)
			return
		}
		write(sb, n.Target)
		sb.WriteByte('/')
		sb.WriteString(n.Name)
	case *Unary:
		if n.Op == OpNot {
			sb.WriteString("not ")
		} else {
			sb.WriteString("-")
		}
		write(sb, n.Operand)
	case *Binary:
		sb.WriteByte('(')
		write(sb, n.Left)
		sb.WriteByte(' ')
		sb.WriteString(n.Op.String())
		sb.WriteByte(' ')
		write(sb, n.Right)
		sb.WriteByte(')')
	case *Call:
		sb.WriteString(n.Func.Name)
		sb.WriteByte('(')
		for i, a := range n.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			write(sb, a)
		}
		sb.WriteByte(')')
	case *NewArray:
		sb.WriteByte('[')
		for i, it := range n.Items {
			if i > 0 {
				sb.WriteString(", ")
			}
			write(sb, it)
		}
		sb.WriteByte(']')
	case *Convert:
		write(sb, n.Operand)
	case *Lambda:
		sb.WriteString(n.Param.Name)
		sb.WriteString(" => ")
		write(sb, n.Body)
	default:
		fmt.Fprintf(sb, "<%T>", e)
	}
}

func writeConstant(sb *strings.Builder, c *Constant) {
	if c.IsNull() || c.Value == nil {
		sb.WriteString("null")
		return
	}
	switch v := c.Value.(type) {
	case string:
		sb.WriteByte('\'')
		sb.WriteString(strings.ReplaceAll(v, "'", "''"))
		sb.WriteByte('\'')
	case time.Time:
		sb.WriteString(v.Format(time.RFC3339Nano))
	default:
		if c.Text != "" {
			sb.WriteString(c.Text)
			return
		}
		fmt.Fprint(sb, v)
	}
}
