//go:build linux
// +build linux

package kernel

//go:generate bpf2go -cc clang -cflags "-O2 -g -Wall" -target amd64,arm64 proctop ../../../bpf/proctop.c
