//go:build amd64

package offsets

// Generated by proctop-offsets on 6.8.0-45-generic.
var builtin = Table{
	Kernel:   "6.8.0-45-generic",
	Arch:     "x86_64",
	PageSize: 4096,
	Task: TaskOffsets{
		State:      24,
		ExitState:  2444,
		PID:        2464,
		TGID:       2468,
		RealParent: 2480,
		Cred:       2872,
		Utime:      2584,
		Stime:      2592,
		StartTime:  2648,
		Comm:       2888,
		Mm:         2400,
		Prio:       124,
		StaticPrio: 128,
		Cgroups:    3536,
	},
	Cred: CredOffsets{UID: 8, EUID: 24},
	Mm: MmOffsets{
		TotalVM:  168,
		RSSStat:  784,
		ArgStart: 312,
		ArgEnd:   320,
	},
	RSS: RSSCounterOffsets{Stride: 40, Value: 8},
	Cgroup: CgroupOffsets{
		CssSetDfltCgrp: 136,
		CgroupKn:       256,
		KernfsNodeID:   96,
	},
	Net: NetOffsets{
		SockDstCache:   264,
		SockBoundDevIf: 16,
		DstEntryDev:    0,
		NetDevIfindex:  224,
	},
}
