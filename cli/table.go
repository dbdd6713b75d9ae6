package cli

import (
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
)

// plainRendition renders tables without borders or separator lines, so that
// the output stays easy to grep.
var plainRendition = tw.Rendition{
	Borders: tw.BorderNone,
	Symbols: tw.NewSymbols(tw.StyleASCII),
	Settings: tw.Settings{
		Lines: tw.Lines{
			ShowHeaderLine: tw.Off,
			ShowFooterLine: tw.Off,
			ShowTop:        tw.Off,
			ShowBottom:     tw.Off,
		},
		Separators: tw.Separators{
			ShowHeader:     tw.Off,
			ShowFooter:     tw.Off,
			BetweenRows:    tw.Off,
			BetweenColumns: tw.Off,
		},
	},
}

// renderTable writes data as left-aligned columns. Long cells, such as
// default expressions, are never wrapped.
func renderTable(header []string, data [][]string, w io.Writer) error {
	left := tw.CellAlignment{Global: tw.AlignLeft}
	table := tablewriter.NewTable(w,
		tablewriter.WithRenderer(renderer.NewBlueprint(plainRendition)),
		tablewriter.WithConfig(tablewriter.Config{
			Header: tw.CellConfig{Alignment: left},
			Row: tw.CellConfig{
				Formatting: tw.CellFormatting{AutoWrap: tw.WrapNone},
				Alignment:  left,
			},
		}),
	)

	table.Header(header)
	if err := table.Bulk(data); err != nil {
		return err //nolint:wrapcheck // This is wrapped by the caller.
	}

	return table.Render() //nolint:wrapcheck // This is wrapped by the caller.
}
