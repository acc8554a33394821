package ir

import "math/big"

// Expression constructors. The XML frontend and the tests both build
// trees through these, so shape invariants (which fields an op uses)
// live in one place.

// Const returns a constant of the given type. Values wider than 64 bits
// use BigConst.
func Const(dtype *DataType, v uint64) *Expr {
	return &Expr{Op: OpConst, Dtype: dtype, Value: v}
}

// BigConst returns a constant carrying a full big-integer value next to
// its low 32 bits, the form the frontend uses for wide literals.
func BigConst(dtype *DataType, v *big.Int) *Expr {
	low := new(big.Int).And(v, big.NewInt(0xffffffff))
	return &Expr{Op: OpConst, Dtype: dtype, Value: low.Uint64(), Big: new(big.Int).Set(v)}
}

// Ref returns a reference to a named variable.
func Ref(name string, dtype *DataType) *Expr {
	return &Expr{Op: OpVarRef, Dtype: dtype, Name: name}
}

// Decl declares a block-local variable.
func Decl(name string, dtype *DataType) *Expr {
	return &Expr{Op: OpVarDecl, Dtype: dtype, Name: name}
}

// Unop returns a unary operation.
func Unop(op string, dtype *DataType, operand *Expr) *Expr {
	return &Expr{Op: op, Dtype: dtype, Left: operand}
}

// Binop returns a binary operation.
func Binop(op string, dtype *DataType, left, right *Expr) *Expr {
	return &Expr{Op: op, Dtype: dtype, Left: left, Right: right}
}

// Assign stores rhs into lhs.
func Assign(lhs, rhs *Expr) *Expr {
	return &Expr{Op: OpAssign, Dtype: lhs.Dtype, Left: lhs, Right: rhs}
}

// If returns a statement-position conditional.
func If(cond, then, els *Expr) *Expr {
	return &Expr{Op: OpIf, Cond: cond, Left: then, Right: els}
}

// CondExpr returns a value-position conditional.
func CondExpr(dtype *DataType, cond, then, els *Expr) *Expr {
	return &Expr{Op: OpCond, Dtype: dtype, Cond: cond, Left: then, Right: els}
}

// While returns a loop with the frontend's four clauses; precond and inc
// may be nil.
func While(precond, loopcond, inc *Expr, body ...*Expr) *Expr {
	return &Expr{Op: OpWhile, Precond: precond, LoopCond: loopcond, Inc: inc, Body: body}
}

// Call returns a call to a named function or a $-builtin.
func Call(name string, args ...*Expr) *Expr {
	return &Expr{Op: OpCCall, Name: name, Body: args}
}

// Block returns an anonymous statement list.
func Block(stmts ...*Expr) *Expr {
	return &Expr{Op: OpBlock, Body: stmts}
}

// InitArray wraps element initializers for VarDef.InitValue.
func InitArray(items ...*Expr) *Expr {
	return &Expr{Op: OpInitArray, Body: items}
}

// InitItem sets element index to the given constant.
func InitItem(index uint64, value *Expr) *Expr {
	return &Expr{Op: OpInitItem, Value: index, Left: value}
}
