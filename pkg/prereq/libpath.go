package prereq

import (
	"os/exec"
	"strings"
	"sync"

	"github.com/exobuild/prereq/pkg/common"
)

var (
	multiarchOnce sync.Once
	multiarchDirs []string
)

// defaultLibPath returns extra library subdirectories used by the host
// distribution. Debian and derivatives install into a multiarch triplet
// under lib.
func defaultLibPath() []string {
	multiarchOnce.Do(func() {
		if ok, _ := common.Exists("/etc/debian_version"); !ok {
			return
		}
		out, err := exec.Command("dpkg-architecture", "-qDEB_HOST_MULTIARCH").Output()
		if err != nil {
			return
		}
		arch := strings.TrimSpace(string(out))
		if arch != "" {
			multiarchDirs = []string{"lib/" + arch}
		}
	})
	return multiarchDirs
}
