package model

import (
	"testing"

	"github.com/srodi/proctop-bpf/pkg/types"
)

func TestFilterProcessesRespectsKernelAndCgroup(t *testing.T) {
	rows := []*types.Process{
		{PID: 1, Comm: "kworker/0:1", IsKernelThread: true},
		{PID: 42, Comm: "api", CgroupPath: "/kubepods/burst"},
		{PID: 43, Comm: "db", CgroupPath: "/docker/db", Container: types.Container{ID: "0123456789abcdef", Runtime: types.RuntimeDocker}},
	}

	visible := FilterProcesses(rows, FilterConfig{})
	if len(visible) != 2 {
		t.Fatalf("expected 2 user rows, got %d", len(visible))
	}
	cfg := FilterConfig{HideKernel: boolPtr(false), CgroupFilter: "KUBE"}
	scoped := FilterProcesses(rows, cfg)
	if len(scoped) != 1 || scoped[0].PID != 42 {
		t.Fatalf("expected only kube cgroup row, got %+v", scoped)
	}
	cfg.CgroupFilter = "docker:0123"
	scoped = FilterProcesses(rows, cfg)
	if len(scoped) != 1 || scoped[0].PID != 43 {
		t.Fatalf("expected container label match, got %+v", scoped)
	}
}

func TestFilterProcessesUserAndText(t *testing.T) {
	rows := []*types.Process{
		{PID: 100, Comm: "nginx", Cmdline: "nginx: worker process", User: "www-data"},
		{PID: 2001, Comm: "bash", Cmdline: "-bash", User: "alice"},
		{PID: 3000, Comm: "python3", Cmdline: "python3 -m http.server", User: "alice"},
	}

	cases := []struct {
		name string
		cfg  FilterConfig
		want []uint32
	}{
		{"user", FilterConfig{User: "alice"}, []uint32{2001, 3000}},
		{"comm case insensitive", FilterConfig{Text: "NGINX"}, []uint32{100}},
		{"cmdline", FilterConfig{Text: "http.server"}, []uint32{3000}},
		{"pid", FilterConfig{Text: "200"}, []uint32{2001}},
		{"user text", FilterConfig{Text: "www"}, []uint32{100}},
		{"user and text", FilterConfig{User: "alice", Text: "bash"}, []uint32{2001}},
		{"no match", FilterConfig{Text: "zzz"}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := FilterProcesses(rows, tc.cfg)
			if len(got) != len(tc.want) {
				t.Fatalf("got %d rows, want %v", len(got), tc.want)
			}
			for i, p := range got {
				if p.PID != tc.want[i] {
					t.Fatalf("row %d: got pid %d, want %d", i, p.PID, tc.want[i])
				}
			}
		})
	}
}

func TestIsKernelThread(t *testing.T) {
	cases := []struct {
		row      types.Process
		expected bool
	}{
		{types.Process{PID: 0}, true},
		{types.Process{PID: 30, Comm: "kworker/0:1", IsKernelThread: true}, true},
		{types.Process{PID: 3, Comm: "user"}, false},
	}
	for _, tc := range cases {
		if got := isKernelThread(&tc.row); got != tc.expected {
			t.Fatalf("kernel detection mismatch for %+v: got %v", tc.row, got)
		}
	}
}

func boolPtr(v bool) *bool { return &v }
