//go:build arm64

package offsets

// Generated by proctop-offsets on 6.8.0-45-generic.
var builtin = Table{
	Kernel:   "6.8.0-45-generic",
	Arch:     "aarch64",
	PageSize: 4096,
	Task: TaskOffsets{
		State:      16,
		ExitState:  2412,
		PID:        2432,
		TGID:       2436,
		RealParent: 2448,
		Cred:       2840,
		Utime:      2552,
		Stime:      2560,
		StartTime:  2616,
		Comm:       2856,
		Mm:         2368,
		Prio:       108,
		StaticPrio: 112,
		Cgroups:    3504,
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
