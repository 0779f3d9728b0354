package model

const maxJumps = 100

// jumpList is a bounded back/forward history of selected pids.
type jumpList struct {
	pids []uint32
	pos  int // index of the next back target + 1
}

func (j *jumpList) push(pid uint32) {
	j.pids = append(j.pids[:j.pos], pid)
	if len(j.pids) > maxJumps {
		j.pids = j.pids[len(j.pids)-maxJumps:]
	}
	j.pos = len(j.pids)
}

// back pops the previous entry. The first step back from the head saves cur
// so forward can return to it.
func (j *jumpList) back(cur uint32, haveCur bool) (uint32, bool) {
	if j.pos == 0 {
		return 0, false
	}
	if j.pos == len(j.pids) && haveCur {
		j.pids = append(j.pids, cur)
		if len(j.pids) > maxJumps+1 {
			j.pids = j.pids[1:]
			j.pos--
		}
	}
	j.pos--
	return j.pids[j.pos], true
}

func (j *jumpList) forward() (uint32, bool) {
	if j.pos+1 >= len(j.pids) {
		return 0, false
	}
	j.pos++
	return j.pids[j.pos], true
}
