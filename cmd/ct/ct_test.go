package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/conntree/internal/model"
)

func TestRedactURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"postgres://ct:secret@db:5432/conns", "postgres://ct:xxxxx@db:5432/conns"},
		{"postgres://db/conns", "postgres://db/conns"},
		{"://bad", "database"},
	}
	for _, tt := range tests {
		if got := redactURL(tt.in); got != tt.want {
			t.Errorf("redactURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSetInherit(t *testing.T) {
	n := model.NewConnection("web01")

	if err := setInherit(n, []string{"Port"}, true); err != nil {
		t.Fatalf("inherit Port: %v", err)
	}
	if !n.Inherit.Port {
		t.Error("Port should be inherited")
	}
	if err := setInherit(n, []string{"Hostname"}, true); err == nil {
		t.Error("expected error for Hostname, which has no inheritance flag")
	}

	if err := setInherit(n, []string{"ALL"}, true); err != nil {
		t.Fatalf("inherit all: %v", err)
	}
	if !n.Inherit.Everything() {
		t.Error("all flags should be set")
	}
	if err := setInherit(n, []string{"all"}, false); err != nil {
		t.Fatalf("own all: %v", err)
	}
	if n.Inherit.Any() {
		t.Error("no flag should remain set")
	}
}

func TestAppNode(t *testing.T) {
	tree := model.NewTree()
	root := model.NewRoot("Connections", model.RootConnections)
	if err := tree.AddRoot(root); err != nil {
		t.Fatal(err)
	}
	conn := model.NewConnection("web01")
	if err := root.AddChild(conn); err != nil {
		t.Fatal(err)
	}
	a := &app{tree: tree}

	for _, id := range []string{"", "root"} {
		n, err := a.node(id)
		if err != nil || n != root {
			t.Errorf("node(%q) = %v, %v; want the connections root", id, n, err)
		}
	}
	if n, err := a.node(conn.ID); err != nil || n != conn {
		t.Errorf("node(%q) = %v, %v", conn.ID, n, err)
	}
	if _, err := a.node("missing"); err == nil {
		t.Error("expected error for unknown id")
	}
}

func TestWriteHelpIncludesLongDescription(t *testing.T) {
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "short text",
		Long:  "Long text mentioning CONNTREE_FILE.",
		Run:   func(*cobra.Command, []string) {},
	}
	var buf bytes.Buffer
	writeHelp(cmd, &buf)
	out := buf.String()
	if !strings.HasPrefix(out, "Long text mentioning CONNTREE_FILE.\n\n") {
		t.Errorf("help should start with the long description, got:\n%s", out)
	}
	if !strings.Contains(out, "Usage:") {
		t.Errorf("help should include usage, got:\n%s", out)
	}
}
