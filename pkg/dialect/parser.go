package dialect

import (
	"fmt"
	"strings"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/format"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver" // value expressions
)

const restoreFlags = format.RestoreStringSingleQuotes |
	format.RestoreKeyWordUppercase |
	format.RestoreNameDoubleQuotes

// droppedOptions names the column options that change behaviour when lost.
var droppedOptions = map[ast.ColumnOptionType]string{
	ast.ColumnOptionReference: "REFERENCES",
	ast.ColumnOptionUniqKey:   "UNIQUE",
	ast.ColumnOptionGenerated: "GENERATED",
}

// DroppedOption is a column option removed during transpilation.
type DroppedOption struct {
	Table  string
	Column string
	Option string
}

func (d DroppedOption) String() string {
	return d.Table + "." + d.Column + " " + d.Option
}

// portableVisitor strips the parts of a MySQL statement that have no
// PostgreSQL equivalent before it is restored, noting the column options
// in droppedOptions it removes.
type portableVisitor struct {
	table   string
	dropped []DroppedOption
}

func (v *portableVisitor) Enter(n ast.Node) (ast.Node, bool) {
	switch node := n.(type) {
	case *ast.TableName:
		node.Schema.O = ""
		node.Schema.L = ""
	case *ast.CreateTableStmt:
		if node.Table != nil {
			v.table = node.Table.Name.O
		}
		node.Options = nil
		node.Partition = nil
		kept := node.Constraints[:0]
		for _, c := range node.Constraints {
			if c.Tp == ast.ConstraintPrimaryKey {
				kept = append(kept, c)
			}
		}
		node.Constraints = kept
	case *ast.ColumnDef:
		if node.Tp != nil {
			node.Tp.SetCharset("")
			node.Tp.SetCollate("")
		}
		opts := node.Options[:0]
		for _, opt := range node.Options {
			switch opt.Tp {
			case ast.ColumnOptionComment, ast.ColumnOptionCollate, ast.ColumnOptionOnUpdate,
				ast.ColumnOptionReference, ast.ColumnOptionUniqKey, ast.ColumnOptionGenerated,
				ast.ColumnOptionColumnFormat, ast.ColumnOptionStorage:
				if name, ok := droppedOptions[opt.Tp]; ok {
					v.dropped = append(v.dropped, DroppedOption{Table: v.table, Column: node.Name.Name.O, Option: name})
				}
				continue
			}
			opts = append(opts, opt)
		}
		node.Options = opts
	}
	return n, false
}

func (v *portableVisitor) Leave(n ast.Node) (ast.Node, bool) {
	return n, true
}

// parseAndRestore round-trips one MySQL statement through the TiDB parser and
// restores it with double-quoted names and standard string literals.
func (t *Transpiler) parseAndRestore(stmt string) (string, []DroppedOption, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, err := t.parser.ParseOneStmt(stmt, "", "")
	if err != nil {
		return "", nil, fmt.Errorf("parse statement: %w", err)
	}
	v := &portableVisitor{}
	node.Accept(v)

	var sb strings.Builder
	if err := node.Restore(format.NewRestoreCtx(restoreFlags, &sb)); err != nil {
		return "", nil, fmt.Errorf("restore statement: %w", err)
	}
	return sb.String(), v.dropped, nil
}

func newParser() *parser.Parser {
	return parser.New()
}
