// Package abi mirrors the fixed-size records written by the kernel programs
// in bpf/proctop.h. Field order, widths and padding must match byte for byte.
package abi

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// TaskRecordSize is sizeof(struct task_record).
	TaskRecordSize = 104
	// CmdlineRecordSize is sizeof(struct cmdline_record).
	CmdlineRecordSize = 4 + CmdlineBufSize
	// NetCountersSize is sizeof(struct net_counters).
	NetCountersSize = 24

	// CmdlineBufSize is the capture buffer; at most CmdlineMax bytes are copied.
	CmdlineBufSize = 256
	CmdlineMax     = CmdlineBufSize - 1

	CommLen = 16
)

// ErrRecordSize reports a producer/consumer layout mismatch.
var ErrRecordSize = errors.New("record size mismatch")

// Kernel scheduler state codes written into TaskRecord.State.
const (
	StateRunning uint8 = iota
	StateSleeping
	StateDiskWait
	StateZombie
	StateStopped
	StateTraced
	StateIdle
	StateDead
)

// TaskRecord is one task as emitted by the iter/task program.
type TaskRecord struct {
	PID         uint32
	TID         uint32
	PPID        uint32
	EUID        uint32
	RUID        uint32
	State       uint8
	_           [3]byte
	UtimeNs     uint64
	StimeNs     uint64
	VsizeBytes  uint64
	RSSPages    uint64
	StartTimeNs uint64
	Comm        [CommLen]byte
	Prio        int32
	StaticPrio  int32
	ShmemPages  uint64
	CgroupID    uint64
}

// Name returns the NUL-terminated comm as a string.
func (r *TaskRecord) Name() string {
	return CString(r.Comm[:])
}

// MarshalBinary encodes the record in host byte order.
func (r *TaskRecord) MarshalBinary() ([]byte, error) {
	b := make([]byte, TaskRecordSize)
	ne := binary.NativeEndian
	ne.PutUint32(b[0:], r.PID)
	ne.PutUint32(b[4:], r.TID)
	ne.PutUint32(b[8:], r.PPID)
	ne.PutUint32(b[12:], r.EUID)
	ne.PutUint32(b[16:], r.RUID)
	b[20] = r.State
	ne.PutUint64(b[24:], r.UtimeNs)
	ne.PutUint64(b[32:], r.StimeNs)
	ne.PutUint64(b[40:], r.VsizeBytes)
	ne.PutUint64(b[48:], r.RSSPages)
	ne.PutUint64(b[56:], r.StartTimeNs)
	copy(b[64:80], r.Comm[:])
	ne.PutUint32(b[80:], uint32(r.Prio))
	ne.PutUint32(b[84:], uint32(r.StaticPrio))
	ne.PutUint64(b[88:], r.ShmemPages)
	ne.PutUint64(b[96:], r.CgroupID)
	return b, nil
}

// UnmarshalBinary decodes exactly one record.
func (r *TaskRecord) UnmarshalBinary(b []byte) error {
	if len(b) != TaskRecordSize {
		return fmt.Errorf("task record: got %d bytes, want %d: %w", len(b), TaskRecordSize, ErrRecordSize)
	}
	ne := binary.NativeEndian
	r.PID = ne.Uint32(b[0:])
	r.TID = ne.Uint32(b[4:])
	r.PPID = ne.Uint32(b[8:])
	r.EUID = ne.Uint32(b[12:])
	r.RUID = ne.Uint32(b[16:])
	r.State = b[20]
	r.UtimeNs = ne.Uint64(b[24:])
	r.StimeNs = ne.Uint64(b[32:])
	r.VsizeBytes = ne.Uint64(b[40:])
	r.RSSPages = ne.Uint64(b[48:])
	r.StartTimeNs = ne.Uint64(b[56:])
	copy(r.Comm[:], b[64:80])
	r.Prio = int32(ne.Uint32(b[80:]))
	r.StaticPrio = int32(ne.Uint32(b[84:]))
	r.ShmemPages = ne.Uint64(b[88:])
	r.CgroupID = ne.Uint64(b[96:])
	return nil
}

// ParseTaskRecords splits an iterator dump into records. A length that is not
// an exact multiple of TaskRecordSize means the object and this parser were
// built from different layouts, and nothing is returned.
func ParseTaskRecords(buf []byte) ([]TaskRecord, error) {
	if rem := len(buf) % TaskRecordSize; rem != 0 {
		return nil, fmt.Errorf("iterator output %d bytes leaves remainder %d for record size %d: %w",
			len(buf), rem, TaskRecordSize, ErrRecordSize)
	}
	recs := make([]TaskRecord, len(buf)/TaskRecordSize)
	for i := range recs {
		off := i * TaskRecordSize
		if err := recs[i].UnmarshalBinary(buf[off : off+TaskRecordSize]); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

// CmdlineRecord is the value of the cmdlines map.
type CmdlineRecord struct {
	Len  uint32
	Data [CmdlineBufSize]byte
}

// String joins the NUL-separated argv into a single space separated line.
func (c *CmdlineRecord) String() string {
	n := int(c.Len)
	if n > CmdlineMax {
		n = CmdlineMax
	}
	return DecodeArgs(c.Data[:n])
}

// NewCmdlineRecord builds a record from raw argv bytes, truncating to CmdlineMax.
func NewCmdlineRecord(raw []byte) CmdlineRecord {
	var c CmdlineRecord
	n := copy(c.Data[:CmdlineMax], raw)
	c.Len = uint32(n)
	return c
}

// NetCounters is the value of the net_counters map.
type NetCounters struct {
	TxBytes uint64
	RxBytes uint64
	Ifindex uint32
	_       uint32
}

// DecodeArgs turns a /proc style argv buffer into a printable command line.
func DecodeArgs(b []byte) string {
	b = bytes.TrimRight(b, "\x00")
	if len(b) == 0 {
		return ""
	}
	out := bytes.ReplaceAll(b, []byte{0}, []byte{' '})
	return string(bytes.TrimSpace(out))
}

// CString returns the bytes up to the first NUL.
func CString(b []byte) string {
	n := bytes.IndexByte(b, 0)
	if n == -1 {
		return string(b)
	}
	return string(b[:n])
}
