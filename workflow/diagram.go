package workflow

import (
	"fmt"
	"strings"

	"github.com/songzhibin97/eventflow/types"
)

// Diagram renders the routing table as a Mermaid flowchart. Edges come
// from the event kinds nodes declare through Emitter; undeclared edges are
// not shown.
func (w *Workflow) Diagram() string {
	infos := w.Nodes()
	owner := make(map[string]string, len(infos))
	for _, info := range infos {
		owner[info.Event] = info.Node
	}

	ids := nodeIDs(infos)

	var b strings.Builder
	b.WriteString("flowchart TD\n")
	if start, ok := owner[types.KindStart]; ok {
		fmt.Fprintf(&b, "    %s((start)) --> %s\n", types.KindStart, ids[start])
	}

	stopUsed := false
	for _, info := range infos {
		fmt.Fprintf(&b, "    %s[%s]\n", ids[info.Node], info.Node)
		for _, kind := range info.Emits {
			if kind == types.KindStop {
				stopUsed = true
				fmt.Fprintf(&b, "    %s -->|%s| %s((stop))\n", ids[info.Node], kind, types.KindStop)
				continue
			}
			target, ok := owner[kind]
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "    %s -->|%s| %s\n", ids[info.Node], kind, ids[target])
		}
	}
	if !stopUsed {
		fmt.Fprintf(&b, "    %s((stop))\n", types.KindStop)
	}
	return b.String()
}

// nodeIDs assigns each node a Mermaid id. Names that sanitize to the same
// id get their registration index appended.
func nodeIDs(infos []NodeInfo) map[string]string {
	ids := make(map[string]string, len(infos))
	taken := make(map[string]bool, len(infos))
	for i, info := range infos {
		if _, ok := ids[info.Node]; ok {
			continue
		}
		id := nodeID(info.Node)
		for n := i; taken[id]; n++ {
			id = fmt.Sprintf("%s_%d", nodeID(info.Node), n)
		}
		taken[id] = true
		ids[info.Node] = id
	}
	return ids
}

func nodeID(name string) string {
	return "n_" + strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, name)
}
