package parser

import (
	"fmt"
	"sort"
	"unsafe"

	tree_sitter_zig "github.com/tree-sitter-grammars/tree-sitter-zig/bindings/go"
	tree_sitter_csharp "github.com/tree-sitter/tree-sitter-c-sharp/bindings/go"
	tree_sitter_cpp "github.com/tree-sitter/tree-sitter-cpp/bindings/go"
	tree_sitter_go "github.com/tree-sitter/tree-sitter-go/bindings/go"
	tree_sitter_java "github.com/tree-sitter/tree-sitter-java/bindings/go"
	tree_sitter_javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
	tree_sitter_php "github.com/tree-sitter/tree-sitter-php/bindings/go"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	tree_sitter_rust "github.com/tree-sitter/tree-sitter-rust/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

// Language names accepted by Registrations.
const (
	LanguageGo         = "go"
	LanguagePython     = "python"
	LanguageJavaScript = "javascript"
	LanguageTypeScript = "typescript"
	LanguageTSX        = "tsx"
	LanguageRust       = "rust"
	LanguageJava       = "java"
	LanguageCpp        = "cpp"
	LanguageCSharp     = "csharp"
	LanguageZig        = "zig"
	LanguagePHP        = "php"
)

// Language describes one grammar and the queries run against it.
//
// Declaration queries capture the declaring node as @<kind> and its name as
// @<kind>.name. @import.path captures an imported module. Reference queries
// capture every use site as @ref. Languages without a reference query only get
// a declarations processor.
type Language struct {
	Name         string
	Extensions   []string
	Grammar      func() unsafe.Pointer
	Declarations string
	References   string
	// Version is bumped whenever a query changes, forcing a rebuild of persisted indexes.
	Version int
}

var languages = []Language{
	{
		Name:       LanguageGo,
		Extensions: []string{".go"},
		Grammar:    tree_sitter_go.Language,
		Declarations: `
        (function_declaration name: (identifier) @function.name) @function
        (method_declaration
            receiver: (parameter_list) @method.receiver
            name: (field_identifier) @method.name) @method
        (type_declaration
            (type_spec name: (type_identifier) @type.name) @type)
        (field_declaration name: (field_identifier) @field.name) @field
        (import_spec path: (interpreted_string_literal) @import.path) @import
    `,
		References: `
        (call_expression function: (identifier) @ref)
        (call_expression function: (selector_expression field: (field_identifier) @ref))
        (type_identifier) @ref
    `,
		Version: 1,
	},
	{
		Name:       LanguagePython,
		Extensions: []string{".py"},
		Grammar:    tree_sitter_python.Language,
		Declarations: `
        (function_definition name: (identifier) @function.name) @function
        (class_definition name: (identifier) @class.name) @class
        (import_statement name: (dotted_name) @import.path) @import
        (import_from_statement module_name: (dotted_name) @import.path) @import
    `,
		References: `
        (call function: (identifier) @ref)
        (call function: (attribute attribute: (identifier) @ref))
        (class_definition superclasses: (argument_list (identifier) @ref))
    `,
		Version: 1,
	},
	{
		Name:       LanguageJavaScript,
		Extensions: []string{".js", ".jsx", ".mjs", ".cjs"},
		Grammar:    tree_sitter_javascript.Language,
		Declarations: `
        (function_declaration name: (identifier) @function.name) @function
        (generator_function_declaration name: (identifier) @function.name) @function
        (variable_declarator
            name: (identifier) @function.name
            value: [(arrow_function) (function_expression) (generator_function)]) @function
        (method_definition name: (property_identifier) @method.name) @method
        (class_declaration name: (identifier) @class.name) @class
        (import_statement source: (string) @import.path) @import
    `,
		References: `
        (call_expression function: (identifier) @ref)
        (call_expression function: (member_expression property: (property_identifier) @ref))
        (new_expression constructor: (identifier) @ref)
    `,
		Version: 1,
	},
	{
		Name:         LanguageTypeScript,
		Extensions:   []string{".ts", ".mts", ".cts"},
		Grammar:      tree_sitter_typescript.LanguageTypescript,
		Declarations: typescriptDeclarations,
		References:   typescriptReferences,
		Version:      1,
	},
	{
		Name:         LanguageTSX,
		Extensions:   []string{".tsx"},
		Grammar:      tree_sitter_typescript.LanguageTSX,
		Declarations: typescriptDeclarations,
		References:   typescriptReferences,
		Version:      1,
	},
	{
		Name:       LanguageRust,
		Extensions: []string{".rs"},
		Grammar:    tree_sitter_rust.Language,
		Declarations: `
        (impl_item type: (type_identifier) @impl.name) @impl
        (function_item name: (identifier) @function.name) @function
        (struct_item name: (type_identifier) @struct.name) @struct
        (enum_item name: (type_identifier) @enum.name) @enum
        (trait_item name: (type_identifier) @trait.name) @trait
        (type_item name: (type_identifier) @type.name) @type
        (mod_item name: (identifier) @module.name) @module
        (use_declaration argument: (_) @import.path) @import
    `,
		References: `
        (call_expression function: (identifier) @ref)
        (call_expression function: (field_expression field: (field_identifier) @ref))
        (call_expression function: (scoped_identifier name: (identifier) @ref))
        (type_identifier) @ref
    `,
		Version: 1,
	},
	{
		Name:       LanguageJava,
		Extensions: []string{".java"},
		Grammar:    tree_sitter_java.Language,
		Declarations: `
        (method_declaration name: (identifier) @method.name) @method
        (constructor_declaration name: (identifier) @constructor.name) @constructor
        (class_declaration name: (identifier) @class.name) @class
        (record_declaration name: (identifier) @record.name) @record
        (interface_declaration name: (identifier) @interface.name) @interface
        (enum_declaration name: (identifier) @enum.name) @enum
        (field_declaration declarator: (variable_declarator name: (identifier) @field.name)) @field
        (annotation_type_declaration name: (identifier) @annotation.name) @annotation
        (import_declaration (scoped_identifier) @import.path) @import
    `,
		References: `
        (method_invocation name: (identifier) @ref)
        (type_identifier) @ref
    `,
		Version: 1,
	},
	{
		Name:       LanguageCpp,
		Extensions: []string{".cpp", ".cc", ".cxx", ".c", ".h", ".hpp"},
		Grammar:    tree_sitter_cpp.Language,
		Declarations: `
        (function_definition declarator: (function_declarator declarator: (identifier) @function.name)) @function
        (function_definition declarator: (function_declarator declarator: (field_identifier) @method.name)) @method
        (class_specifier name: (type_identifier) @class.name) @class
        (struct_specifier name: (type_identifier) @struct.name) @struct
        (enum_specifier name: (type_identifier) @enum.name) @enum
        (namespace_definition name: (namespace_identifier) @namespace.name) @namespace
        (preproc_include path: (_) @import.path) @import
    `,
		References: `
        (call_expression function: (identifier) @ref)
        (call_expression function: (field_expression field: (field_identifier) @ref))
        (type_identifier) @ref
    `,
		Version: 1,
	},
	{
		Name:       LanguageCSharp,
		Extensions: []string{".cs"},
		Grammar:    tree_sitter_csharp.Language,
		Declarations: `
        (method_declaration name: (identifier) @method.name) @method
        (constructor_declaration name: (identifier) @constructor.name) @constructor
        (class_declaration name: (identifier) @class.name) @class
        (interface_declaration name: (identifier) @interface.name) @interface
        (struct_declaration name: (identifier) @struct.name) @struct
        (record_declaration name: (identifier) @record.name) @record
        (enum_declaration name: (identifier) @enum.name) @enum
        (property_declaration name: (identifier) @property.name) @property
        (delegate_declaration name: (identifier) @delegate.name) @delegate
        (namespace_declaration name: (qualified_name) @namespace.name) @namespace
        (namespace_declaration name: (identifier) @namespace.name) @namespace
        (using_directive (qualified_name) @import.path) @import
        (using_directive (identifier) @import.path) @import
    `,
		References: `
        (invocation_expression function: (identifier) @ref)
        (invocation_expression function: (member_access_expression name: (identifier) @ref))
        (object_creation_expression type: (identifier) @ref)
    `,
		Version: 1,
	},
	{
		Name:       LanguageZig,
		Extensions: []string{".zig"},
		Grammar:    tree_sitter_zig.Language,
		Declarations: `
        (function_declaration (identifier) @function.name) @function
        (variable_declaration
          (identifier) @struct.name
          (struct_declaration)) @struct
        (variable_declaration
          (identifier) @struct.name
          (union_declaration)) @struct
    `,
		Version: 1,
	},
	{
		Name:       LanguagePHP,
		Extensions: []string{".php", ".phtml"},
		Grammar:    tree_sitter_php.LanguagePHP,
		Declarations: `
        (class_declaration name: (name) @class.name) @class
        (interface_declaration name: (name) @interface.name) @interface
        (trait_declaration name: (name) @trait.name) @trait
        (enum_declaration name: (name) @enum.name) @enum
        (function_definition name: (name) @function.name) @function
        (method_declaration name: (name) @method.name) @method
        (namespace_definition name: (namespace_name) @namespace.name) @namespace
    `,
		Version: 1,
	},
}

const typescriptDeclarations = `
        (function_declaration name: (identifier) @function.name) @function
        (generator_function_declaration name: (identifier) @function.name) @function
        (method_definition name: (property_identifier) @method.name) @method
        (function_expression name: (identifier) @function.name) @function
        (class_declaration name: (type_identifier) @class.name) @class
        (interface_declaration name: (type_identifier) @interface.name) @interface
        (type_alias_declaration name: (type_identifier) @type.name) @type
        (enum_declaration name: (identifier) @enum.name) @enum
        (import_statement source: (string) @import.path) @import
    `

const typescriptReferences = `
        (call_expression function: (identifier) @ref)
        (call_expression function: (member_expression property: (property_identifier) @ref))
        (new_expression constructor: (identifier) @ref)
        (type_identifier) @ref
    `

// Languages returns every supported language, sorted by name.
func Languages() []Language {
	out := append([]Language(nil), languages...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LookupLanguage returns the language called name.
func LookupLanguage(name string) (Language, error) {
	for _, l := range languages {
		if l.Name == name {
			return l, nil
		}
	}
	return Language{}, fmt.Errorf("unsupported language %q", name)
}

// containerOnly kinds qualify the names declared inside them but are not
// declarations themselves.
var containerOnly = map[string]bool{
	"impl": true,
}

// typeKinds turn a nested function into a method.
var typeKinds = map[string]bool{
	"class":     true,
	"struct":    true,
	"interface": true,
	"trait":     true,
	"record":    true,
	"impl":      true,
	"enum":      true,
}
