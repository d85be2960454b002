package scriptbox

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/file"

	"github.com/zhangyunhao116/scriptbox/sandbox"
)

// builtinObjectNames are language built-ins whose member calls are part
// of ordinary JavaScript, not tool invocations.
var builtinObjectNames = map[string]bool{
	"console": true,
	"Math":    true,
	"JSON":    true,
	"Object":  true,
	"Array":   true,
	"String":  true,
	"Number":  true,
	"Boolean": true,
	"Date":    true,
	"Promise": true,
	"RegExp":  true,
	"Error":   true,
	"Symbol":  true,
	"Reflect": true,
	"Proxy":   true,
}

// networkNamespaces are objects whose member calls indicate direct
// network traffic rather than tool usage.
var networkNamespaces = map[string]bool{
	"http":  true,
	"https": true,
	"axios": true,
	"net":   true,
	"ws":    true,
}

// networkConstructors are constructors that open network channels.
var networkConstructors = map[string]bool{
	"XMLHttpRequest": true,
	"WebSocket":      true,
	"EventSource":    true,
}

// dangerousIdentifiers maps bare identifiers to the violation they raise
// when referenced anywhere in a script.
var dangerousIdentifiers = map[string]ViolationType{
	"eval":     ViolationEval,
	"Function": ViolationEval,

	"process": ViolationProcessAccess,

	"global":     ViolationGlobalAccess,
	"globalThis": ViolationGlobalAccess,
	"window":     ViolationGlobalAccess,
	"__dirname":  ViolationGlobalAccess,
	"__filename": ViolationGlobalAccess,

	"require": ViolationRequireImport,

	"Reflect":              ViolationMetaprogramming,
	"Proxy":                ViolationMetaprogramming,
	"Symbol":               ViolationMetaprogramming,
	"WeakRef":              ViolationMetaprogramming,
	"FinalizationRegistry": ViolationMetaprogramming,
}

// fsModules and processModules classify require targets.
var fsModules = map[string]bool{
	"fs":          true,
	"fs/promises": true,
	"path":        true,
	"os":          true,
}

var processModules = map[string]bool{
	"child_process":  true,
	"worker_threads": true,
	"cluster":        true,
}

// descriptorMethods are Object/Reflect methods that manipulate property
// descriptors or the prototype chain.
var descriptorMethods = map[string]bool{
	"defineProperty":            true,
	"defineProperties":          true,
	"getOwnPropertyDescriptor":  true,
	"getOwnPropertyDescriptors": true,
	"getOwnPropertyNames":       true,
	"getOwnPropertySymbols":     true,
	"setPrototypeOf":            true,
	"getPrototypeOf":            true,
	"create":                    false, // Object.create(null) is harmless
}

// astVisitor walks a parsed script in pre-order, collecting violations,
// tool call sites, and network call sites. The property name of a dot
// access is checked by the member rules but never visited as a bare
// identifier.
type astVisitor struct {
	a    *Analyzer
	prog *ast.Program

	violations   []SecurityViolation
	toolCalls    []ToolCallSite
	networkCalls []NetworkCallSite

	// seen dedupes violations by type and position.
	seen map[string]bool

	// handledPos marks identifiers already consumed by a call-level rule,
	// e.g. the require in require("fs").
	handledPos map[file.Idx]bool
}

func newAstVisitor(a *Analyzer, prog *ast.Program) *astVisitor {
	return &astVisitor{
		a:          a,
		prog:       prog,
		seen:       make(map[string]bool),
		handledPos: make(map[file.Idx]bool),
	}
}

func (v *astVisitor) walk() {
	for _, stmt := range v.prog.Body {
		v.walkStmt(stmt)
	}
}

func (v *astVisitor) result() *AnalysisResult {
	sort.SliceStable(v.violations, func(i, j int) bool {
		if v.violations[i].Line != v.violations[j].Line {
			return v.violations[i].Line < v.violations[j].Line
		}
		return v.violations[i].Column < v.violations[j].Column
	})
	sort.SliceStable(v.toolCalls, func(i, j int) bool {
		if v.toolCalls[i].Line != v.toolCalls[j].Line {
			return v.toolCalls[i].Line < v.toolCalls[j].Line
		}
		return v.toolCalls[i].Column < v.toolCalls[j].Column
	})
	return &AnalysisResult{
		Valid:        len(v.violations) == 0,
		Violations:   v.violations,
		ToolCalls:    v.toolCalls,
		NetworkCalls: v.networkCalls,
	}
}

// pos converts an AST index to a 1-based line and column in the
// unwrapped script, compensating for the wrapper line.
func (v *astVisitor) pos(idx file.Idx) (line, col int) {
	p := v.prog.File.Position(int(idx) - 1)
	line = p.Line - sandbox.WrapLineOffset
	if line < 1 {
		line = 1
	}
	return line, p.Column
}

func (v *astVisitor) flag(t ViolationType, idx file.Idx, format string, args ...any) {
	line, col := v.pos(idx)
	key := fmt.Sprintf("%s:%d:%d", t, line, col)
	if v.seen[key] {
		return
	}
	v.seen[key] = true
	v.violations = append(v.violations, SecurityViolation{
		Type:    t,
		Message: fmt.Sprintf(format, args...),
		Line:    line,
		Column:  col,
	})
}

// walkStmt recurses through one statement. goja's ast package declares
// only the node types, so the traversal over them is spelled out here.
func (v *astVisitor) walkStmt(s ast.Statement) {
	switch st := s.(type) {
	case nil:
	case *ast.BlockStatement:
		for _, c := range st.List {
			v.walkStmt(c)
		}
	case *ast.ExpressionStatement:
		v.walkExpr(st.Expression)
	case *ast.IfStatement:
		v.walkExpr(st.Test)
		v.walkStmt(st.Consequent)
		v.walkStmt(st.Alternate)
	case *ast.ReturnStatement:
		v.walkExpr(st.Argument)
	case *ast.ThrowStatement:
		v.walkExpr(st.Argument)
	case *ast.VariableStatement:
		v.walkBindings(st.List)
	case *ast.LexicalDeclaration:
		v.walkBindings(st.List)
	case *ast.WhileStatement:
		v.walkExpr(st.Test)
		v.walkStmt(st.Body)
	case *ast.DoWhileStatement:
		v.walkStmt(st.Body)
		v.walkExpr(st.Test)
	case *ast.ForStatement:
		v.walkForInit(st.Initializer)
		v.walkExpr(st.Test)
		v.walkExpr(st.Update)
		v.walkStmt(st.Body)
	case *ast.ForInStatement:
		v.walkForInto(st.Into)
		v.walkExpr(st.Source)
		v.walkStmt(st.Body)
	case *ast.ForOfStatement:
		v.walkForInto(st.Into)
		v.walkExpr(st.Source)
		v.walkStmt(st.Body)
	case *ast.SwitchStatement:
		v.walkExpr(st.Discriminant)
		for _, c := range st.Body {
			v.walkExpr(c.Test)
			for _, cs := range c.Consequent {
				v.walkStmt(cs)
			}
		}
	case *ast.TryStatement:
		v.walkStmt(st.Body)
		if st.Catch != nil {
			v.walkExpr(st.Catch.Parameter)
			v.walkStmt(st.Catch.Body)
		}
		if st.Finally != nil {
			v.walkStmt(st.Finally)
		}
	case *ast.LabelledStatement:
		v.walkStmt(st.Statement)
	case *ast.WithStatement:
		v.walkExpr(st.Object)
		v.walkStmt(st.Body)
	case *ast.FunctionDeclaration:
		v.walkExpr(st.Function)
	case *ast.ClassDeclaration:
		v.walkExpr(st.Class)
	}
}

// walkExpr recurses through one expression, dispatching the rule hooks
// before descending.
func (v *astVisitor) walkExpr(e ast.Expression) {
	switch ex := e.(type) {
	case nil:
	case *ast.Identifier:
		v.enterIdentifier(ex)
	case *ast.CallExpression:
		v.enterCall(ex)
		v.walkExpr(ex.Callee)
		for _, a := range ex.ArgumentList {
			v.walkExpr(a)
		}
	case *ast.NewExpression:
		v.enterNew(ex)
		v.walkExpr(ex.Callee)
		for _, a := range ex.ArgumentList {
			v.walkExpr(a)
		}
	case *ast.DotExpression:
		v.enterMember(ex.Identifier.Name.String(), true, ex.Identifier.Idx)
		v.walkExpr(ex.Left)
	case *ast.PrivateDotExpression:
		v.walkExpr(ex.Left)
	case *ast.BracketExpression:
		if name, exact := literalMemberName(ex.Member); name != "" {
			v.enterMember(name, exact, ex.Member.Idx0())
		}
		v.walkExpr(ex.Left)
		v.walkExpr(ex.Member)
	case *ast.OptionalChain:
		v.walkExpr(ex.Expression)
	case *ast.Optional:
		v.walkExpr(ex.Expression)
	case *ast.AssignExpression:
		v.enterAssign(ex)
		v.walkExpr(ex.Left)
		v.walkExpr(ex.Right)
	case *ast.BinaryExpression:
		v.walkExpr(ex.Left)
		v.walkExpr(ex.Right)
	case *ast.ConditionalExpression:
		v.walkExpr(ex.Test)
		v.walkExpr(ex.Consequent)
		v.walkExpr(ex.Alternate)
	case *ast.UnaryExpression:
		v.walkExpr(ex.Operand)
	case *ast.SequenceExpression:
		for _, sub := range ex.Sequence {
			v.walkExpr(sub)
		}
	case *ast.ArrayLiteral:
		for _, el := range ex.Value {
			v.walkExpr(el)
		}
	case *ast.ArrayPattern:
		for _, el := range ex.Elements {
			v.walkExpr(el)
		}
		v.walkExpr(ex.Rest)
	case *ast.ObjectLiteral:
		for _, p := range ex.Value {
			v.walkProperty(p)
		}
	case *ast.ObjectPattern:
		for _, p := range ex.Properties {
			v.walkProperty(p)
		}
		v.walkExpr(ex.Rest)
	case *ast.SpreadElement:
		v.walkExpr(ex.Expression)
	case *ast.TemplateLiteral:
		v.walkExpr(ex.Tag)
		for _, sub := range ex.Expressions {
			v.walkExpr(sub)
		}
	case *ast.YieldExpression:
		v.walkExpr(ex.Argument)
	case *ast.AwaitExpression:
		v.walkExpr(ex.Argument)
	case *ast.FunctionLiteral:
		v.walkParams(ex.ParameterList)
		v.walkStmt(ex.Body)
	case *ast.ArrowFunctionLiteral:
		v.walkParams(ex.ParameterList)
		v.walkConciseBody(ex.Body)
	case *ast.ClassLiteral:
		v.walkExpr(ex.SuperClass)
		for _, el := range ex.Body {
			v.walkClassElement(el)
		}
	case *ast.Binding:
		v.walkExpr(ex.Target)
		v.walkExpr(ex.Initializer)
	case *ast.PropertyShort:
		v.walkProperty(ex)
	case *ast.PropertyKeyed:
		v.walkProperty(ex)
	}
}

func (v *astVisitor) walkProperty(p ast.Property) {
	switch pr := p.(type) {
	case nil:
	case *ast.PropertyShort:
		// Shorthand {name} reads the variable of that name.
		v.enterIdentifier(&pr.Name)
		v.walkExpr(pr.Initializer)
	case *ast.PropertyKeyed:
		if pr.Computed {
			v.walkExpr(pr.Key)
		}
		v.walkExpr(pr.Value)
	case *ast.SpreadElement:
		v.walkExpr(pr.Expression)
	}
}

func (v *astVisitor) walkBindings(list []*ast.Binding) {
	for _, b := range list {
		if b == nil {
			continue
		}
		v.walkExpr(b.Target)
		v.walkExpr(b.Initializer)
	}
}

func (v *astVisitor) walkParams(params *ast.ParameterList) {
	if params == nil {
		return
	}
	v.walkBindings(params.List)
	v.walkExpr(params.Rest)
}

func (v *astVisitor) walkConciseBody(body ast.ConciseBody) {
	switch b := body.(type) {
	case nil:
	case *ast.BlockStatement:
		v.walkStmt(b)
	case *ast.ExpressionBody:
		v.walkExpr(b.Expression)
	}
}

func (v *astVisitor) walkForInit(init ast.ForLoopInitializer) {
	switch in := init.(type) {
	case nil:
	case *ast.ForLoopInitializerExpression:
		v.walkExpr(in.Expression)
	case *ast.ForLoopInitializerVarDeclList:
		v.walkBindings(in.List)
	case *ast.ForLoopInitializerLexicalDecl:
		v.walkBindings(in.LexicalDeclaration.List)
	}
}

func (v *astVisitor) walkForInto(into ast.ForInto) {
	switch in := into.(type) {
	case nil:
	case *ast.ForIntoVar:
		if in.Binding != nil {
			v.walkExpr(in.Binding.Target)
			v.walkExpr(in.Binding.Initializer)
		}
	case *ast.ForDeclaration:
		v.walkExpr(in.Target)
	case *ast.ForIntoExpression:
		v.walkExpr(in.Expression)
	}
}

func (v *astVisitor) walkClassElement(el ast.ClassElement) {
	switch ce := el.(type) {
	case nil:
	case *ast.FieldDefinition:
		if ce.Computed {
			v.walkExpr(ce.Key)
		}
		v.walkExpr(ce.Initializer)
	case *ast.MethodDefinition:
		if ce.Computed {
			v.walkExpr(ce.Key)
		}
		v.walkExpr(ce.Body)
	case *ast.ClassStaticBlock:
		v.walkStmt(ce.Block)
	}
}

func (v *astVisitor) enterCall(call *ast.CallExpression) {
	switch callee := call.Callee.(type) {
	case *ast.Identifier:
		name := callee.Name.String()
		switch {
		case name == "require":
			v.handledPos[callee.Idx] = true
			v.flagRequire(call, callee)
		case name == "fetch":
			v.addNetworkCall("fetch", callee.Idx)
		}
	case *ast.DotExpression:
		method := callee.Identifier.Name.String()
		if v.flagInvokedMember(call, method, callee.Identifier.Idx) {
			return
		}
		ns, ok := callee.Left.(*ast.Identifier)
		if !ok {
			return
		}
		nsName := ns.Name.String()
		switch {
		case nsName == "Object" || nsName == "Reflect":
			if descriptorMethods[method] {
				v.flag(ViolationDescriptorManipulation, ns.Idx, "%s.%s manipulates property descriptors", nsName, method)
			}
		case networkNamespaces[nsName]:
			v.addNetworkCall(nsName+"."+method, ns.Idx)
		case v.a.skipNamespaces[nsName]:
			// language built-in, not a tool
		default:
			line, col := v.pos(ns.Idx)
			v.toolCalls = append(v.toolCalls, ToolCallSite{
				Namespace: nsName,
				Method:    method,
				Tool:      nsName + ":" + method,
				Line:      line,
				Column:    col,
				ArgCount:  len(call.ArgumentList),
			})
		}
	case *ast.BracketExpression:
		if name, _ := literalMemberName(callee.Member); name != "" {
			v.flagInvokedMember(call, name, callee.Member.Idx0())
		}
	}
}

func (v *astVisitor) enterNew(n *ast.NewExpression) {
	if ident, ok := n.Callee.(*ast.Identifier); ok {
		name := ident.Name.String()
		if networkConstructors[name] {
			v.addNetworkCall("new "+name, ident.Idx)
		}
	}
	if dot, ok := n.Callee.(*ast.DotExpression); ok {
		v.flagInvokedMember(nil, dot.Identifier.Name.String(), dot.Identifier.Idx)
	}
}

// flagInvokedMember flags dangerous member names that are being invoked
// or constructed. Returns true if the member was flagged.
func (v *astVisitor) flagInvokedMember(_ *ast.CallExpression, name string, idx file.Idx) bool {
	if name == "constructor" {
		v.flag(ViolationConstructorAccess, idx, "invoking a constructor property escapes the sandbox scope")
		return true
	}
	return false
}

// enterMember checks a member access for dangerous property names.
// exact is false when the name came from an interpolated template and is
// only a partial match.
func (v *astVisitor) enterMember(name string, exact bool, idx file.Idx) {
	if name == "__proto__" || (!exact && strings.Contains(name, "__proto__")) {
		v.flag(ViolationPrototypePollution, idx, "__proto__ access pollutes the prototype chain")
	}
}

func (v *astVisitor) enterAssign(n *ast.AssignExpression) {
	if idx, found := prototypeInChain(n.Left); found {
		v.flag(ViolationPrototypePollution, idx, "assignment through a prototype property pollutes shared objects")
	}
}

func (v *astVisitor) enterIdentifier(ident *ast.Identifier) {
	if v.handledPos[ident.Idx] {
		return
	}
	name := ident.Name.String()
	t, ok := dangerousIdentifiers[name]
	if !ok {
		return
	}
	switch t {
	case ViolationEval:
		v.flag(t, ident.Idx, "%s enables dynamic code evaluation", name)
	case ViolationProcessAccess:
		v.flag(t, ident.Idx, "process exposes the host process")
	case ViolationGlobalAccess:
		v.flag(t, ident.Idx, "%s exposes the host environment", name)
	case ViolationRequireImport:
		v.flag(t, ident.Idx, "module loading is not available to scripts")
	case ViolationMetaprogramming:
		v.flag(t, ident.Idx, "%s enables reflection on sandbox internals", name)
	}
}

// flagRequire classifies a require(...) call by its module argument.
func (v *astVisitor) flagRequire(call *ast.CallExpression, callee *ast.Identifier) {
	module := ""
	if len(call.ArgumentList) > 0 {
		if lit, ok := call.ArgumentList[0].(*ast.StringLiteral); ok {
			module = lit.Value.String()
		}
	}
	switch {
	case fsModules[module]:
		v.flag(ViolationFSAccess, callee.Idx, "require(%q) reaches the host filesystem", module)
	case processModules[module]:
		v.flag(ViolationChildProcess, callee.Idx, "require(%q) spawns host processes", module)
	case module != "":
		v.flag(ViolationRequireImport, callee.Idx, "require(%q) is not available to scripts", module)
	default:
		v.flag(ViolationRequireImport, callee.Idx, "module loading is not available to scripts")
	}
}

func (v *astVisitor) addNetworkCall(construct string, idx file.Idx) {
	line, col := v.pos(idx)
	v.networkCalls = append(v.networkCalls, NetworkCallSite{
		Construct: construct,
		Line:      line,
		Column:    col,
	})
}

// literalMemberName extracts a member name from a computed access when
// the member expression is a literal. exact is false for interpolated
// templates, where only the literal fragments are known.
func literalMemberName(member ast.Expression) (name string, exact bool) {
	switch m := member.(type) {
	case *ast.StringLiteral:
		return m.Value.String(), true
	case *ast.TemplateLiteral:
		var b strings.Builder
		for _, el := range m.Elements {
			b.WriteString(el.Parsed.String())
		}
		return b.String(), len(m.Expressions) == 0
	default:
		return "", false
	}
}

// prototypeInChain reports whether an assignment target passes through a
// prototype property, e.g. Array.prototype.includes = ...
func prototypeInChain(target ast.Expression) (file.Idx, bool) {
	for {
		switch t := target.(type) {
		case *ast.DotExpression:
			name := t.Identifier.Name.String()
			if name == "prototype" || name == "__proto__" {
				return t.Identifier.Idx, true
			}
			target = t.Left
		case *ast.BracketExpression:
			if name, _ := literalMemberName(t.Member); name == "prototype" || name == "__proto__" {
				return t.Member.Idx0(), true
			}
			target = t.Left
		default:
			return 0, false
		}
	}
}
