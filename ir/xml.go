package ir

import (
	"encoding/xml"
	"io"
	"math/big"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// The frontend hands the elaborated design over as XML. The schema
// mirrors the IR one-to-one: a <module> of <var> and <block> elements,
// expressions nested as <const>, <varref>, <unop op>, <binop op>,
// <triop op>, <while>, <ccall> and <block> elements. Types are carried
// as width/signed attributes (logic) or an <array> wrapper.

type xmlNode struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Nodes   []xmlNode  `xml:",any"`
}

func (n *xmlNode) attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func (n *xmlNode) intAttr(name string, def int) (int, error) {
	s, ok := n.attr(name)
	if !ok {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Wrapf(err, "attribute %q", name)
	}
	return v, nil
}

func (n *xmlNode) boolAttr(name string) bool {
	s, ok := n.attr(name)
	return ok && s != "false" && s != "0"
}

// ParseXML reads one module definition from r.
func ParseXML(r io.Reader) (*Module, error) {
	var root xmlNode
	if err := xml.NewDecoder(r).Decode(&root); err != nil {
		return nil, errors.Wrap(err, "decode module xml")
	}
	if root.XMLName.Local != "module" {
		return nil, errors.Errorf("root element is <%s>, expected <module>", root.XMLName.Local)
	}
	name, _ := root.attr("name")
	m := NewModule(name)
	for i := range root.Nodes {
		child := &root.Nodes[i]
		switch child.XMLName.Local {
		case "var":
			v, err := parseVar(child)
			if err != nil {
				return nil, errors.Wrapf(err, "module %s", name)
			}
			m.AddVar(v)
		case "block":
			bname, _ := child.attr("name")
			body, err := parseExprs(child.Nodes)
			if err != nil {
				return nil, errors.Wrapf(err, "block %s", bname)
			}
			m.AddBlock(bname, body...)
		default:
			return nil, errors.Errorf("unexpected element <%s> in module", child.XMLName.Local)
		}
	}
	return m, nil
}

func parseVar(n *xmlNode) (*VarDef, error) {
	name, ok := n.attr("name")
	if !ok {
		return nil, errors.New("<var> without name")
	}
	v := &VarDef{
		Name:     name,
		IsInput:  n.boolAttr("input"),
		IsOutput: n.boolAttr("output"),
		IsParam:  n.boolAttr("param"),
	}
	for i := range n.Nodes {
		child := &n.Nodes[i]
		switch child.XMLName.Local {
		case "logic", "array":
			dt, err := parseType(child)
			if err != nil {
				return nil, errors.Wrapf(err, "var %s", name)
			}
			v.Dtype = dt
		case "constval":
			c, err := parseConst(child, nil)
			if err != nil {
				return nil, errors.Wrapf(err, "var %s constval", name)
			}
			v.ConstValue = c
		case "init":
			items, err := parseExprs(child.Nodes)
			if err != nil {
				return nil, errors.Wrapf(err, "var %s init", name)
			}
			// bare constants take their position as the element index
			for i, it := range items {
				if it.Op != OpInitItem {
					items[i] = InitItem(uint64(i), it)
				}
			}
			v.InitValue = InitArray(items...)
		default:
			return nil, errors.Errorf("var %s: unexpected element <%s>", name, child.XMLName.Local)
		}
	}
	if v.Dtype == nil {
		return nil, errors.Errorf("var %s has no type", name)
	}
	if v.ConstValue != nil {
		v.ConstValue.Dtype = v.Dtype
	}
	return v, nil
}

func parseType(n *xmlNode) (*DataType, error) {
	switch n.XMLName.Local {
	case "logic":
		left, err := n.intAttr("left", 0)
		if err != nil {
			return nil, err
		}
		right, err := n.intAttr("right", 0)
		if err != nil {
			return nil, err
		}
		return &DataType{Kind: TypeLogic, Left: left, Right: right, Signed: n.boolAttr("signed")}, nil
	case "array":
		low, err := n.intAttr("low", 0)
		if err != nil {
			return nil, err
		}
		high, err := n.intAttr("high", 0)
		if err != nil {
			return nil, err
		}
		if len(n.Nodes) != 1 {
			return nil, errors.New("<array> needs exactly one element type")
		}
		elem, err := parseType(&n.Nodes[0])
		if err != nil {
			return nil, err
		}
		return &DataType{Kind: TypeArray, Elem: elem, Low: low, High: high}, nil
	}
	return nil, errors.Errorf("unknown type element <%s>", n.XMLName.Local)
}

func exprType(n *xmlNode) (*DataType, error) {
	w, err := n.intAttr("width", 0)
	if err != nil || w == 0 {
		return nil, err
	}
	dt := Logic(w)
	dt.Signed = n.boolAttr("signed")
	return dt, nil
}

func parseConst(n *xmlNode, dt *DataType) (*Expr, error) {
	if dt == nil {
		var err error
		if dt, err = exprType(n); err != nil {
			return nil, err
		}
	}
	var value uint64
	if s, ok := n.attr("value"); ok {
		v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), numBase(s), 64)
		if err != nil {
			return nil, errors.Wrap(err, "value")
		}
		value = v
	}
	c := Const(dt, value)
	if s, ok := n.attr("big"); ok {
		b, good := new(big.Int).SetString(strings.TrimPrefix(s, "0x"), 16)
		if !good {
			return nil, errors.Errorf("bad big value %q", s)
		}
		c = BigConst(dt, b)
	}
	return c, nil
}

func numBase(s string) int {
	if strings.HasPrefix(s, "0x") {
		return 16
	}
	return 10
}

func parseExprs(nodes []xmlNode) ([]*Expr, error) {
	out := make([]*Expr, 0, len(nodes))
	for i := range nodes {
		e, err := parseExpr(&nodes[i])
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func parseExpr(n *xmlNode) (*Expr, error) {
	line, err := n.intAttr("line", 0)
	if err != nil {
		return nil, err
	}
	dt, err := exprType(n)
	if err != nil {
		return nil, err
	}

	var e *Expr
	switch n.XMLName.Local {
	case "const":
		c, err := parseConst(n, dt)
		if err != nil {
			return nil, err
		}
		c.Line = line
		return c, nil
	case "varref":
		name, _ := n.attr("name")
		e = Ref(name, dt)
	case "vardecl":
		name, _ := n.attr("name")
		e = Decl(name, dt)
	case "unop":
		op, _ := n.attr("op")
		kids, err := parseExprs(n.Nodes)
		if err != nil {
			return nil, errors.Wrapf(err, "unop %s", op)
		}
		if len(kids) != 1 {
			return nil, errors.Errorf("unop %s needs one operand", op)
		}
		e = Unop(op, dt, kids[0])
	case "binop":
		op, _ := n.attr("op")
		kids, err := parseExprs(n.Nodes)
		if err != nil {
			return nil, errors.Wrapf(err, "binop %s", op)
		}
		if len(kids) != 2 {
			return nil, errors.Errorf("binop %s needs two operands", op)
		}
		e = Binop(op, dt, kids[0], kids[1])
	case "triop":
		op, _ := n.attr("op")
		kids, err := parseExprs(n.Nodes)
		if err != nil {
			return nil, errors.Wrapf(err, "triop %s", op)
		}
		// if-without-else arrives with two children
		if len(kids) != 3 && !(op == OpIf && len(kids) == 2) {
			return nil, errors.Errorf("triop %s needs three operands", op)
		}
		var els *Expr
		if len(kids) == 3 {
			els = kids[2]
		}
		e = &Expr{Op: op, Dtype: dt, Cond: kids[0], Left: kids[1], Right: els}
	case "while":
		e = &Expr{Op: OpWhile}
		for i := range n.Nodes {
			child := &n.Nodes[i]
			kids, err := parseExprs(child.Nodes)
			if err != nil {
				return nil, errors.Wrap(err, "while")
			}
			switch child.XMLName.Local {
			case "precond":
				e.Precond = one(kids)
			case "loopcond":
				e.LoopCond = one(kids)
			case "inc":
				e.Inc = one(kids)
			case "body":
				e.Body = kids
			default:
				return nil, errors.Errorf("while: unexpected element <%s>", child.XMLName.Local)
			}
		}
		if e.LoopCond == nil {
			return nil, errors.New("while without <loopcond>")
		}
	case "ccall":
		name, _ := n.attr("name")
		args, err := parseExprs(n.Nodes)
		if err != nil {
			return nil, errors.Wrapf(err, "ccall %s", name)
		}
		e = Call(name, args...)
		e.Dtype = dt
	case "block":
		name, _ := n.attr("name")
		body, err := parseExprs(n.Nodes)
		if err != nil {
			return nil, errors.Wrapf(err, "block %s", name)
		}
		e = Block(body...)
		e.Name = name
	default:
		return nil, errors.Errorf("unknown expression element <%s>", n.XMLName.Local)
	}
	e.Line = line
	return e, nil
}

func one(kids []*Expr) *Expr {
	if len(kids) == 1 {
		return kids[0]
	}
	return Block(kids...)
}
