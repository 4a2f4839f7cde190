package bubblewrap

import (
	"strings"
	"testing"
)

func TestAddEnvFirst(t *testing.T) {
	b := Create()
	b.SetEnv("TEST_VAR", "a:b:c")

	b.AddEnvFirst("TEST_VAR", "d")
	if b.envs["TEST_VAR"] != "d:a:b:c" {
		t.Errorf("Expected d:a:b:c, got %s", b.envs["TEST_VAR"])
	}

	b.AddEnvFirst("TEST_VAR", "b")
	if b.envs["TEST_VAR"] != "b:d:a:c" {
		t.Errorf("Expected b:d:a:c, got %s", b.envs["TEST_VAR"])
	}

	b.AddEnvFirst("TEST_VAR", "b")
	if b.envs["TEST_VAR"] != "b:d:a:c" {
		t.Errorf("Expected b:d:a:c, got %s", b.envs["TEST_VAR"])
	}

	b.AddEnvFirst("NEW_VAR", "foo")
	if b.envs["NEW_VAR"] != "foo" {
		t.Errorf("Expected foo, got %s", b.envs["NEW_VAR"])
	}
}

func TestArgsKeepBindOrder(t *testing.T) {
	b := Create()
	b.AddFlag("--die-with-parent")
	b.AddBind(BIND, "/")
	b.AddVirtual(TMPFS, "/tmp")
	b.AddBind(BIND, "/tmp/.X11-unix")
	b.AddMapBind(BIND, "/profiles/a/home", "/home/u")
	b.SetEnv("PULSE_SINK", "splitux-0")
	b.SetEnv("HOME", "/home/u")

	got := strings.Join(b.Args(), " ")
	want := "--die-with-parent --bind / / --tmpfs /tmp --bind /tmp/.X11-unix /tmp/.X11-unix " +
		"--bind /profiles/a/home /home/u --setenv HOME /home/u --setenv PULSE_SINK splitux-0"
	if got != want {
		t.Errorf("unexpected args\n got: %s\nwant: %s", got, want)
	}
}

func TestPrependEntry(t *testing.T) {
	tests := []struct{ list, entry, want string }{
		{"", "/a.so", "/a.so"},
		{"/b.so", "/a.so", "/a.so:/b.so"},
		{"/b.so:/a.so::", "/a.so", "/a.so:/b.so"},
	}
	for _, tt := range tests {
		if got := PrependEntry(tt.list, tt.entry); got != tt.want {
			t.Errorf("PrependEntry(%q, %q) = %q, want %q", tt.list, tt.entry, got, tt.want)
		}
	}
}
