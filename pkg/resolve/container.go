package resolve

import (
	"regexp"
	"strings"

	"github.com/srodi/proctop-bpf/pkg/types"
)

var containerIDRegex = regexp.MustCompile(`^[a-f0-9]{12,64}$`)

var scopePrefixes = []struct {
	prefix  string
	runtime types.ContainerRuntime
}{
	{"docker-", types.RuntimeDocker},
	{"cri-containerd-", types.RuntimeContainerd},
	{"containerd-", types.RuntimeContainerd},
	{"crio-", types.RuntimeKubernetes},
	{"libpod-", types.RuntimePodman},
}

// ParseContainer extracts a container identity from a cgroup path. Both the
// systemd driver (docker-<id>.scope) and the cgroupfs driver (/docker/<id>)
// layouts are understood. The innermost match wins.
func ParseContainer(path string) (types.Container, bool) {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	kube := strings.HasPrefix(path, "/kubepods")

	for i := len(segs) - 1; i >= 0; i-- {
		seg := segs[i]
		if strings.HasSuffix(seg, ".scope") {
			name := strings.TrimSuffix(seg, ".scope")
			if strings.HasPrefix(name, "libpod-conmon-") {
				continue
			}
			for _, p := range scopePrefixes {
				if id := strings.TrimPrefix(name, p.prefix); id != name && containerIDRegex.MatchString(id) {
					return types.Container{ID: id, Runtime: p.runtime}, true
				}
			}
			continue
		}
		if !containerIDRegex.MatchString(seg) {
			continue
		}
		switch {
		case i > 0 && segs[i-1] == "docker":
			return types.Container{ID: seg, Runtime: types.RuntimeDocker}, true
		case i > 0 && segs[i-1] == "libpod_parent":
			return types.Container{ID: seg, Runtime: types.RuntimePodman}, true
		case kube:
			return types.Container{ID: seg, Runtime: types.RuntimeKubernetes}, true
		}
	}
	return types.Container{}, false
}

// ParseService returns the innermost systemd service unit in a cgroup path.
func ParseService(path string) string {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	for i := len(segs) - 1; i >= 0; i-- {
		if strings.HasSuffix(segs[i], ".service") {
			return segs[i]
		}
	}
	return ""
}
