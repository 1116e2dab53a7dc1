package parser

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// languageSpec drives generic extraction for one grammar.
type languageSpec struct {
	name          string
	language      *sitter.Language
	extensions    []string
	functionTypes map[string]struct{}
	methodTypes   map[string]struct{}
	classTypes    map[string]struct{}
	ifaceTypes    map[string]struct{}
	aliasTypes    map[string]struct{}
	importTypes   map[string]struct{}
	callTypes     map[string]struct{}
	// asciiOnly languages treat non-ASCII identifiers as a topology red flag.
	asciiOnly bool
}

func set(types ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(types))
	for _, t := range types {
		m[t] = struct{}{}
	}
	return m
}

var nativeSpecs = []*languageSpec{
	{
		name:          "go",
		language:      golang.GetLanguage(),
		extensions:    []string{".go"},
		functionTypes: set("function_declaration"),
		methodTypes:   set("method_declaration"),
		classTypes:    set("type_spec"), // struct types resolved during walk
		ifaceTypes:    set(),            // interfaces detected via type_spec body
		aliasTypes:    set("type_alias"),
		importTypes:   set("import_spec"),
		callTypes:     set("call_expression"),
		asciiOnly:     false,
	},
	{
		name:          "typescript",
		language:      typescript.GetLanguage(),
		extensions:    []string{".ts"},
		functionTypes: set("function_declaration", "generator_function_declaration"),
		methodTypes:   set("method_definition"),
		classTypes:    set("class_declaration"),
		ifaceTypes:    set("interface_declaration"),
		aliasTypes:    set("type_alias_declaration"),
		importTypes:   set("import_statement"),
		callTypes:     set("call_expression", "new_expression"),
		asciiOnly:     true,
	},
	{
		name:          "tsx",
		language:      tsx.GetLanguage(),
		extensions:    []string{".tsx"},
		functionTypes: set("function_declaration", "generator_function_declaration"),
		methodTypes:   set("method_definition"),
		classTypes:    set("class_declaration"),
		ifaceTypes:    set("interface_declaration"),
		aliasTypes:    set("type_alias_declaration"),
		importTypes:   set("import_statement"),
		callTypes:     set("call_expression", "new_expression"),
		asciiOnly:     true,
	},
	{
		name:          "javascript",
		language:      javascript.GetLanguage(),
		extensions:    []string{".js", ".jsx", ".mjs", ".cjs"},
		functionTypes: set("function_declaration", "generator_function_declaration"),
		methodTypes:   set("method_definition"),
		classTypes:    set("class_declaration"),
		ifaceTypes:    set(),
		aliasTypes:    set(),
		importTypes:   set("import_statement"),
		callTypes:     set("call_expression", "new_expression"),
		asciiOnly:     true,
	},
	{
		name:          "python",
		language:      python.GetLanguage(),
		extensions:    []string{".py"},
		functionTypes: set("function_definition"),
		methodTypes:   set(),
		classTypes:    set("class_definition"),
		ifaceTypes:    set(),
		aliasTypes:    set(),
		importTypes:   set("import_statement", "import_from_statement"),
		callTypes:     set("call"),
		asciiOnly:     false,
	},
}

// NativeBackend parses with in-process tree-sitter grammars.
type NativeBackend struct {
	mu     sync.Mutex
	parser *sitter.Parser
	byExt  map[string]*languageSpec
	closed bool
}

// NewNativeBackend creates the native tree-sitter backend.
func NewNativeBackend() (*NativeBackend, error) {
	byExt := make(map[string]*languageSpec)
	for _, spec := range nativeSpecs {
		for _, ext := range spec.extensions {
			byExt[ext] = spec
		}
	}
	return &NativeBackend{
		parser: sitter.NewParser(),
		byExt:  byExt,
	}, nil
}

// Name implements Backend.
func (b *NativeBackend) Name() string { return "native" }

// Capabilities implements Backend. The native backend answers structural
// queries (calls, type relations).
func (b *NativeBackend) Capabilities() Capabilities {
	return Capabilities{SupportsQueries: true}
}

// LanguageFor implements Backend.
func (b *NativeBackend) LanguageFor(path string) string {
	spec, ok := b.byExt[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return ""
	}
	return spec.name
}

// Parse implements Backend.
func (b *NativeBackend) Parse(ctx context.Context, path string, content []byte) (*ParseResult, error) {
	spec, ok := b.byExt[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, path)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("native backend is closed")
	}

	b.parser.SetLanguage(spec.language)
	tree, err := b.parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if tree == nil {
		return nil, fmt.Errorf("parse %s: nil tree", path)
	}
	defer tree.Close()

	ex := &extractor{spec: spec, source: content}
	ex.walk(tree.RootNode(), "")

	return &ParseResult{
		Language:      spec.name,
		Symbols:       ex.symbols,
		Imports:       ex.imports,
		CallSites:     ex.calls,
		TypeRelations: ex.relations,
		HasErrors:     tree.RootNode().HasError(),
	}, nil
}

// Close implements Backend.
func (b *NativeBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.parser.Close()
	return nil
}

var _ Backend = (*NativeBackend)(nil)

// extractor accumulates symbols while walking a parse tree.
type extractor struct {
	spec      *languageSpec
	source    []byte
	symbols   []Symbol
	imports   []Import
	calls     []CallSite
	relations []TypeRelation
}

func (e *extractor) walk(node *sitter.Node, container string) {
	if node == nil {
		return
	}

	nodeType := node.Type()
	nextContainer := container

	switch {
	case member(e.spec.functionTypes, nodeType):
		sym := e.symbolFrom(node, KindFunction, container)
		if container != "" {
			sym.Kind = KindMethod
		}
		e.symbols = append(e.symbols, sym)
		nextContainer = sym.Name

	case member(e.spec.methodTypes, nodeType):
		sym := e.symbolFrom(node, KindMethod, container)
		e.symbols = append(e.symbols, sym)
		nextContainer = sym.Name

	case member(e.spec.classTypes, nodeType):
		sym := e.classSymbol(node, container)
		e.symbols = append(e.symbols, sym)
		e.extractHeritage(node, sym.Name)
		nextContainer = sym.Name

	case member(e.spec.ifaceTypes, nodeType):
		sym := e.symbolFrom(node, KindInterface, container)
		e.symbols = append(e.symbols, sym)
		e.extractHeritage(node, sym.Name)
		nextContainer = sym.Name

	case member(e.spec.aliasTypes, nodeType):
		e.symbols = append(e.symbols, e.symbolFrom(node, KindTypeAlias, container))

	case member(e.spec.importTypes, nodeType):
		e.extractImport(node)

	case member(e.spec.callTypes, nodeType):
		if callee := e.calleeName(node); callee != "" {
			e.calls = append(e.calls, CallSite{
				Caller: container,
				Callee: callee,
				Line:   int(node.StartPoint().Row) + 1,
			})
		}
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		e.walk(node.Child(i), nextContainer)
	}
}

// symbolFrom builds a Symbol from a declaration node.
func (e *extractor) symbolFrom(node *sitter.Node, kind SymbolKind, container string) Symbol {
	name := e.nameOf(node)
	return Symbol{
		Name:      name,
		Container: container,
		Kind:      kind,
		Range:     rangeOf(node),
		Signature: e.signatureOf(node),
		Exported:  isExportedName(e.spec.name, name),
	}
}

// classSymbol distinguishes Go struct vs interface type_specs; other
// languages report class declarations directly.
func (e *extractor) classSymbol(node *sitter.Node, container string) Symbol {
	kind := KindClass
	if e.spec.name == "go" {
		switch {
		case node.ChildByFieldName("type") != nil && node.ChildByFieldName("type").Type() == "interface_type":
			kind = KindInterface
		case node.ChildByFieldName("type") != nil && node.ChildByFieldName("type").Type() != "struct_type":
			kind = KindTypeAlias
		}
	}
	return e.symbolFrom(node, kind, container)
}

// nameOf finds the identifier for a declaration node.
func (e *extractor) nameOf(node *sitter.Node) string {
	if n := node.ChildByFieldName("name"); n != nil {
		return n.Content(e.source)
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		t := child.Type()
		if t == "identifier" || t == "type_identifier" || t == "field_identifier" || t == "property_identifier" {
			return child.Content(e.source)
		}
	}
	return ""
}

// signatureOf returns the declaration header up to the body.
func (e *extractor) signatureOf(node *sitter.Node) string {
	end := int(node.EndByte())
	if body := node.ChildByFieldName("body"); body != nil {
		end = int(body.StartByte())
	}
	start := int(node.StartByte())
	if end > len(e.source) {
		end = len(e.source)
	}
	sig := strings.TrimSpace(string(e.source[start:end]))
	if idx := strings.IndexByte(sig, '\n'); idx > 0 && len(sig) > 200 {
		sig = sig[:idx]
	}
	return sig
}

// extractImport records the import specifier (string literal or module path).
func (e *extractor) extractImport(node *sitter.Node) {
	line := int(node.StartPoint().Row) + 1

	var findString func(n *sitter.Node) string
	findString = func(n *sitter.Node) string {
		if n == nil {
			return ""
		}
		t := n.Type()
		if t == "interpreted_string_literal" || t == "string" || t == "string_literal" || t == "raw_string_literal" {
			return strings.Trim(n.Content(e.source), "\"'`")
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			if s := findString(n.Child(i)); s != "" {
				return s
			}
		}
		return ""
	}
	spec := findString(node)

	if spec == "" && e.spec.name == "python" {
		// "import os.path" has no string literal; take the dotted name.
		for i := 0; i < int(node.ChildCount()); i++ {
			child := node.Child(i)
			if child.Type() == "dotted_name" || child.Type() == "aliased_import" {
				spec = child.Content(e.source)
				break
			}
		}
	}

	if spec != "" {
		e.imports = append(e.imports, Import{Specifier: spec, Line: line})
	}
}

// extractHeritage records extends/implements clauses for a class/interface.
func (e *extractor) extractHeritage(node *sitter.Node, subtype string) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "class_heritage", "extends_clause", "superclass":
			for _, name := range e.identifierNames(child) {
				e.relations = append(e.relations, TypeRelation{
					Subtype: subtype, Supertype: name, Kind: RelationExtends,
				})
			}
		case "implements_clause":
			for _, name := range e.identifierNames(child) {
				e.relations = append(e.relations, TypeRelation{
					Subtype: subtype, Supertype: name, Kind: RelationImplements,
				})
			}
		case "argument_list":
			// Python bases: class Foo(Base1, Base2)
			if e.spec.name == "python" {
				for _, name := range e.identifierNames(child) {
					e.relations = append(e.relations, TypeRelation{
						Subtype: subtype, Supertype: name, Kind: RelationExtends,
					})
				}
			}
		}
	}
}

// identifierNames collects identifier-like leaf names under a node.
func (e *extractor) identifierNames(node *sitter.Node) []string {
	var names []string
	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		t := n.Type()
		if t == "identifier" || t == "type_identifier" {
			names = append(names, n.Content(e.source))
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			visit(n.Child(i))
		}
	}
	visit(node)
	return names
}

// calleeName resolves the called function's name from a call node.
func (e *extractor) calleeName(node *sitter.Node) string {
	fn := node.ChildByFieldName("function")
	if fn == nil && node.ChildCount() > 0 {
		fn = node.Child(0)
	}
	if fn == nil {
		return ""
	}
	switch fn.Type() {
	case "identifier":
		return fn.Content(e.source)
	case "selector_expression", "member_expression", "attribute":
		// Keep only the final selector: pkg.Fn -> Fn, obj.method -> method.
		content := fn.Content(e.source)
		if idx := strings.LastIndexByte(content, '.'); idx >= 0 && idx+1 < len(content) {
			return content[idx+1:]
		}
		return content
	default:
		return ""
	}
}

func rangeOf(node *sitter.Node) Range {
	return Range{
		StartLine: int(node.StartPoint().Row) + 1,
		EndLine:   int(node.EndPoint().Row) + 1,
		StartByte: int(node.StartByte()),
		EndByte:   int(node.EndByte()),
	}
}

func member(m map[string]struct{}, key string) bool {
	_, ok := m[key]
	return ok
}

// isExportedName applies per-language export conventions.
func isExportedName(language, name string) bool {
	if name == "" {
		return false
	}
	switch language {
	case "go":
		return name[0] >= 'A' && name[0] <= 'Z'
	case "python":
		return !strings.HasPrefix(name, "_")
	default:
		// JS/TS exports need module analysis; treat public-looking names
		// as exported.
		return !strings.HasPrefix(name, "_") && !strings.HasPrefix(name, "#")
	}
}
