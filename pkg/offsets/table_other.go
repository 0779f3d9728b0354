//go:build !amd64 && !arm64

package offsets

var builtin Table
