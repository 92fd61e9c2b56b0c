package loader

import (
	"strings"

	"git.canoozie.net/riddling/xrefdb/pkg/model"
)

// DefaultDelimiter separates the fields of an input line
const DefaultDelimiter = "\t"

// Row is one parsed input line
type Row struct {
	Primary   model.Xref
	Secondary *model.Xref // nil when the line has no secondary identifier
}

// Parser turns delimited lines into Rows. The first field is tagged with the
// primary datasource, the second with the secondary one.
type Parser struct {
	delimiter string
	primary   model.DataSource
	secondary model.DataSource
}

// NewParser creates a parser. An empty delimiter means DefaultDelimiter.
func NewParser(primary, secondary model.DataSource, delimiter string) *Parser {
	if delimiter == "" {
		delimiter = DefaultDelimiter
	}
	return &Parser{
		delimiter: delimiter,
		primary:   primary,
		secondary: secondary,
	}
}

// Parse parses one line. Double quotes are removed from every field.
// Fields after the second are ignored.
func (p *Parser) Parse(line string, lineNo int) (Row, error) {
	fields := strings.Split(line, p.delimiter)

	primaryID := stripQuotes(fields[0])
	if strings.TrimSpace(primaryID) == "" {
		return Row{}, &ParseError{Line: lineNo, Text: line}
	}

	row := Row{Primary: model.NewXref(primaryID, p.primary)}

	if len(fields) > 1 {
		secondaryID := stripQuotes(fields[1])
		if strings.TrimSpace(secondaryID) != "" {
			secondary := model.NewXref(secondaryID, p.secondary)
			row.Secondary = &secondary
		}
	}

	return row, nil
}

func stripQuotes(field string) string {
	return strings.ReplaceAll(field, `"`, "")
}
