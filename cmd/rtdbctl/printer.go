package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/danmuck/rtdb/internal/session"
	"github.com/danmuck/rtdb/internal/tree"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// printer renders session events as one line each.
type printer struct {
	out io.Writer

	up      func(string, ...any) string
	down    func(string, ...any) string
	path    func(string, ...any) string
	kind    func(string, ...any) string
	revoked func(string, ...any) string
}

// newPrinter colors output only when out is a terminal and noColor is unset.
func newPrinter(out io.Writer, noColor bool) *printer {
	p := &printer{out: out}
	if noColor || !isTerminal(out) {
		plain := fmt.Sprintf
		p.up, p.down, p.path, p.kind, p.revoked = plain, plain, plain, plain, plain
		return p
	}
	p.up = color.New(color.FgGreen, color.Bold).SprintfFunc()
	p.down = color.New(color.FgRed, color.Bold).SprintfFunc()
	p.path = color.CyanString
	p.kind = color.RGB(128, 128, 128).SprintfFunc()
	p.revoked = color.New(color.FgYellow).SprintfFunc()
	return p
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *printer) connectivity(up bool) {
	if up {
		fmt.Fprintln(p.out, p.up("connected"))
		return
	}
	fmt.Fprintln(p.out, p.down("disconnected"))
}

func (p *printer) authRevoked() {
	fmt.Fprintln(p.out, p.revoked("auth revoked"))
}

func (p *printer) operation(ev session.OperationEvent) {
	target := ev.Target().String()
	if ev.Query != nil {
		target += " " + ev.Query.Key()
	}
	if ev.Kind == session.OperationListenRevoked {
		fmt.Fprintf(p.out, "%s %s\n", p.kind("%-8s", "revoked"), p.path("%s", target))
		return
	}
	m, err := ev.Mutation()
	if err != nil {
		fmt.Fprintf(p.out, "%s %s %s\n", p.kind("%-8s", ev.Kind.String()), p.path("%s", target), string(ev.Data))
		return
	}
	fmt.Fprintf(p.out, "%s %s %s\n", p.kind("%-8s", ev.Kind.String()), p.path("%s", target), describe(m))
}

// describe summarizes a mutation for a terminal line.
func describe(m tree.Mutation) string {
	switch m := m.(type) {
	case tree.Overwrite:
		if m.Node == nil || m.Node.IsEmpty() {
			return "null"
		}
		if m.Node.IsLeaf() {
			return fmt.Sprintf("%v", m.Node.Value)
		}
		return "{" + strings.Join(m.Node.ChildNames(), ",") + "}"
	case tree.SetPriority:
		return fmt.Sprintf(".priority=%v", m.Priority)
	case tree.Merge:
		names := make([]string, 0, len(m.Children))
		for name, child := range m.Children {
			if child == nil || child.IsEmpty() {
				name = "-" + name
			}
			names = append(names, name)
		}
		sort.Strings(names)
		return "+{" + strings.Join(names, ",") + "}"
	default:
		return fmt.Sprintf("%T", m)
	}
}
