package ui

import (
	"strings"
	"testing"

	"github.com/alfredjeanlab/conntree/internal/model"
)

func TestRenderTree(t *testing.T) {
	ForceNoColor()

	root := model.NewRoot("Connections", model.RootConnections)
	folder := model.NewContainer("prod")
	folder.Props.Protocol = model.ProtocolSSH2
	folder.Props.Port = 22
	if err := root.AddChild(folder); err != nil {
		t.Fatal(err)
	}
	web := model.NewConnection("web01")
	web.Props.Hostname = "10.0.0.1"
	web.Inherit.Protocol = true
	web.Inherit.Port = true
	web.Favorite = true
	if err := folder.AddChild(web); err != nil {
		t.Fatal(err)
	}
	if err := root.AddChild(model.NewConnection("laptop")); err != nil {
		t.Fatal(err)
	}

	var b strings.Builder
	if err := RenderTree(&b, root, TreeOptions{ShowEndpoints: true}); err != nil {
		t.Fatalf("RenderTree: %v", err)
	}
	want := strings.Join([]string{
		"Connections",
		"├── prod/",
		"│   └── web01 * ssh2://10.0.0.1:22",
		"└── laptop rdp://:3389",
		"",
	}, "\n")
	if b.String() != want {
		t.Errorf("RenderTree =\n%s\nwant\n%s", b.String(), want)
	}
}

func TestRenderTreeShowIDs(t *testing.T) {
	ForceNoColor()

	root := model.NewRoot("Connections", model.RootConnections)
	c := model.NewConnection("a")
	if err := root.AddChild(c); err != nil {
		t.Fatal(err)
	}
	var b strings.Builder
	if err := RenderTree(&b, root, TreeOptions{ShowIDs: true}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(b.String(), "a "+c.ID) {
		t.Errorf("output %q lacks node ID", b.String())
	}
}
