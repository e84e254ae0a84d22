package main

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestProjectIDFor(t *testing.T) {
	if got := projectIDFor("thesis", "/home/a/thesis"); got != "thesis" {
		t.Errorf("explicit id = %q", got)
	}
	a := projectIDFor("", "/home/a/thesis")
	b := projectIDFor("", "/home/a/paper")
	if a == b || !strings.HasPrefix(a, "dir-") || len(a) != len("dir-")+12 {
		t.Errorf("derived ids = %q, %q", a, b)
	}
	if projectIDFor("", "/home/a/thesis") != a {
		t.Error("derived id is not stable")
	}
}

func TestChannelURL(t *testing.T) {
	cases := map[string]string{
		"http://127.0.0.1:8766":          "ws://127.0.0.1:8766/v1/channel",
		"https://agent.example.com/":     "wss://agent.example.com/v1/channel",
		"ws://127.0.0.1:8766/v1/channel": "ws://127.0.0.1:8766/v1/channel",
		"wss://agent.example.com/prefix": "wss://agent.example.com/prefix/v1/channel",
	}
	for in, want := range cases {
		got, err := channelURL(in)
		if err != nil || got != want {
			t.Errorf("channelURL(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	for _, bad := range []string{"ftp://x", "http://"} {
		if _, err := channelURL(bad); err == nil {
			t.Errorf("channelURL(%q) accepted", bad)
		}
	}
}

func TestOutputPath(t *testing.T) {
	dir := filepath.FromSlash("/work/thesis")

	out, rel := outputPath(dir, "", "")
	if out != filepath.Join(dir, "output.pdf") || rel != "output.pdf" {
		t.Errorf("default = %q, %q", out, rel)
	}
	out, rel = outputPath(dir, "", "chapters/book.tex")
	if out != filepath.Join(dir, "book.pdf") || rel != "book.pdf" {
		t.Errorf("from main = %q, %q", out, rel)
	}
	out, rel = outputPath(dir, "build/out.pdf", "")
	if rel != "build/out.pdf" {
		t.Errorf("nested = %q, %q", out, rel)
	}
	_, rel = outputPath(dir, filepath.FromSlash("/tmp/out.pdf"), "")
	if rel != "" {
		t.Errorf("outside project rel = %q", rel)
	}

	if got := excludeList(""); got != nil {
		t.Errorf("excludeList(\"\") = %v", got)
	}
	if got := excludeList("out.pdf"); !reflect.DeepEqual(got, []string{"out.pdf"}) {
		t.Errorf("excludeList = %v", got)
	}
}

func TestOpenHashStoreRejectsUnknownKind(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	if _, _, err := openHashStore("sqlit"); err == nil || !strings.Contains(err.Error(), "sqlit") {
		t.Errorf("openHashStore(sqlit) err = %v", err)
	}
	s, closeFn, err := openHashStore("file")
	if err != nil || s == nil || closeFn != nil {
		t.Errorf("openHashStore(file) = %v, %v", s, err)
	}
}
