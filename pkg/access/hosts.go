package access

import (
	"strings"

	"github.com/glennswest/clusterprep/pkg/fileutil"
)

// rosterBlock delimits the lines clusterprep owns in the hosts file.
var rosterBlock = fileutil.Block{
	Begin: "# BEGIN CLUSTERPREP ROSTER",
	End:   "# END CLUSTERPREP ROSTER",
}

const loopbackAlias = "127.0.1.1"

// RenderHosts returns doc with any 127.0.1.1 alias for hostname commented
// out and the roster block set to body. Lines outside the block are kept.
func RenderHosts(doc []byte, hostname, body string) []byte {
	lines := strings.Split(string(doc), "\n")
	inBlock := false
	for i, l := range lines {
		trimmed := strings.TrimSpace(l)
		switch trimmed {
		case rosterBlock.Begin:
			inBlock = true
			continue
		case rosterBlock.End:
			inBlock = false
			continue
		}
		if inBlock || !aliasesHost(trimmed, hostname) {
			continue
		}
		lines[i] = "# " + l
	}
	return rosterBlock.Apply([]byte(strings.Join(lines, "\n")), strings.TrimRight(body, "\n"))
}

func aliasesHost(line, hostname string) bool {
	fields := strings.Fields(line)
	if len(fields) < 2 || fields[0] != loopbackAlias {
		return false
	}
	for _, f := range fields[1:] {
		if strings.HasPrefix(f, "#") {
			return false
		}
		if strings.EqualFold(f, hostname) {
			return true
		}
	}
	return false
}
