package table

import (
	"bytes"
	"testing"
)

func TestRender(t *testing.T) {
	cols := []Column{
		{Header: "SERVICE", Flexible: true, LeftAlign: true},
		{Header: "STATUS", Width: 12, LeftAlign: true},
		{Header: "RSS", Width: 9},
	}
	rows := []Row{
		{"checkout", "connected", "112 MB"},
		{"payments-gateway", "disconnected", "64 MB"},
	}

	tbl := NewTable(cols, rows)
	tbl.Sort = []int{0}

	var buf bytes.Buffer
	tbl.Render(&buf)

	expected := "SERVICE           STATUS              RSS  \n" +
		"checkout          connected        112 MB  \n" +
		"payments-gateway  disconnected      64 MB  \n"
	if buf.String() != expected {
		t.Fatalf("Expected:\n%q\ngot:\n%q", expected, buf.String())
	}
}

func TestRenderSorts(t *testing.T) {
	cols := []Column{{Header: "A", Width: 3, LeftAlign: true}}
	tbl := NewTable(cols, []Row{{"bbb"}, {"aaa"}, {"ccc"}})
	tbl.Sort = []int{0}

	var buf bytes.Buffer
	tbl.Render(&buf)

	expected := "A    \naaa  \nbbb  \nccc  \n"
	if buf.String() != expected {
		t.Fatalf("Expected:\n%q\ngot:\n%q", expected, buf.String())
	}
}

func TestRenderTruncates(t *testing.T) {
	cols := []Column{{Header: "NAME", Width: 6, LeftAlign: true}}
	tbl := NewTable(cols, []Row{{"a-very-long-name"}})

	var buf bytes.Buffer
	tbl.Render(&buf)

	expected := "NAME    \na-v...  \n"
	if buf.String() != expected {
		t.Fatalf("Expected:\n%q\ngot:\n%q", expected, buf.String())
	}
}

func TestRenderEmptyMessage(t *testing.T) {
	cols := []Column{{Header: "NAME", Width: 6, LeftAlign: true}}
	tbl := NewTable(cols, []Row{})
	tbl.EmptyMessage = "No services connected."

	var buf bytes.Buffer
	tbl.Render(&buf)

	if buf.String() != "No services connected.\n" {
		t.Fatalf("Expected empty message, got %q", buf.String())
	}
}
