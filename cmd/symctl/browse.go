package symctl

import (
	"context"
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/spf13/cobra"

	"github.com/manu343726/symctl/internal/symbolicate/debugid"
	"github.com/manu343726/symctl/internal/symbolicate/dispatch"
	"github.com/manu343726/symctl/internal/symbolicate/provider"
	"github.com/manu343726/symctl/internal/symbolicate/symtab"
)

var browseRoot string

// browseCmd is an interactive symbol browser built on tcell/tview,
// complementing the table and addr2line subcommands with a terminal UI
// for stepping through a symbol table without changing any library
// behavior.
var browseCmd = &cobra.Command{
	Use:   "browse <debug-name> <debug-id>",
	Short: "Interactively browse a binary's symbol table",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		debugName := args[0]
		id, err := parseIdArg(args[1])
		if err != nil {
			return err
		}

		p := provider.Directory{Root: browseRoot}
		query := symtab.SymbolicationQuery{DebugName: debugName, DebugId: id}
		table, err := dispatch.GetCompactSymbolTable(context.Background(), query, p)
		if err != nil {
			if handleNilIdRetry(err) {
				return nil
			}
			return err
		}

		return runBrowser(table, debugName, id, browseRoot)
	},
}

func init() {
	browseCmd.Flags().StringVar(&browseRoot, "root", ".", "directory to search for candidate binaries")
}

// runBrowser drives a list of symbol names filtered by case-insensitive
// substring match; selecting
// one resolves and shows its addr2line frames in a side panel.
func runBrowser(table *symtab.CompactSymbolTable, debugName string, id debugid.DebugId, root string) error {
	app := tview.NewApplication()
	p := provider.Directory{Root: root}

	list := tview.NewList().ShowSecondaryText(false)
	detail := tview.NewTextView().SetDynamicColors(true).SetWrap(true)
	detail.SetBorder(true).SetTitle("frames")

	filter := tview.NewInputField().SetLabel("filter: ")

	populate := func(needle string) {
		list.Clear()
		for i := 0; i < table.Len(); i++ {
			name := table.Name(i)
			if needle != "" && !strings.Contains(strings.ToLower(name), strings.ToLower(needle)) {
				continue
			}
			addr := table.Addr[i]
			list.AddItem(fmt.Sprintf("0x%x  %s", addr, name), "", 0, func() {
				showFrames(detail, debugName, id, p, addr)
			})
		}
	}
	populate("")

	filter.SetChangedFunc(func(text string) { populate(text) })

	flexTop := tview.NewFlex().
		AddItem(filter, 0, 1, true)
	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(flexTop, 1, 0, true).
		AddItem(tview.NewFlex().
			AddItem(list, 0, 1, false).
			AddItem(detail, 0, 2, false), 0, 1, false)

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEsc:
			app.Stop()
			return nil
		case tcell.KeyDown, tcell.KeyTab:
			app.SetFocus(list)
			return nil
		}
		return event
	})

	return app.SetRoot(flex, true).SetFocus(filter).Run()
}

func showFrames(detail *tview.TextView, debugName string, id debugid.DebugId, p provider.Directory, addr uint32) {
	detail.Clear()
	fmt.Fprintf(detail, "[yellow]0x%x[white]\n", addr)

	query := symtab.SymbolicationQuery{DebugName: debugName, DebugId: id, Addresses: []uint32{addr}}
	entries, err := dispatch.GetSymbolicationResult(context.Background(), query, p)
	if err != nil {
		fmt.Fprintf(detail, "[red]%s[white]\n", err)
		return
	}
	for _, e := range entries {
		for depth, frame := range e.Frames {
			name := "??"
			if frame.Function != nil {
				name = *frame.Function
			}
			loc := ""
			if frame.FilePath != nil {
				loc = *frame.FilePath
				if frame.Line != nil {
					loc = fmt.Sprintf("%s:%d", loc, *frame.Line)
				}
			}
			fmt.Fprintf(detail, "  #%d %s  %s\n", depth, name, loc)
		}
	}
}
