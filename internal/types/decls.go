package types

import "ffigen/internal/source"

// Function is a named function declaration.
type Function struct {
	Name string
	Sig  TypeID // KindFunc node
	// ParamNames are this declaration's own names; the interned signature
	// keeps whichever names were seen first.
	ParamNames []string
	Loc        source.Loc
}

// Global is a named variable declaration.
type Global struct {
	Name  string
	Type  TypeID
	Const bool
	Loc   source.Loc
}

// AddFunction records a function declaration. Redeclarations keep the first.
func (g *Graph) AddFunction(fn Function) {
	if _, dup := g.declNames["fn:"+fn.Name]; dup {
		return
	}
	g.declNames["fn:"+fn.Name] = struct{}{}
	g.functions = append(g.functions, fn)
}

// Functions returns the declared functions in input order.
func (g *Graph) Functions() []Function {
	if g == nil {
		return nil
	}
	return g.functions
}

// AddGlobal records a variable declaration. Redeclarations keep the first.
func (g *Graph) AddGlobal(v Global) {
	if _, dup := g.declNames["var:"+v.Name]; dup {
		return
	}
	g.declNames["var:"+v.Name] = struct{}{}
	g.globals = append(g.globals, v)
}

// Globals returns the declared variables in input order.
func (g *Graph) Globals() []Global {
	if g == nil {
		return nil
	}
	return g.globals
}
