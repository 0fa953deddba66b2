// Package topology classifies the local hardware interconnect into a named
// archetype used to select a synthesis plan.
//
// Classification is a pure function of the interconnect report text: the
// report is parsed into an adjacency model restricted to high-speed
// intra-node links (NVLink), then an ordered rule set is applied. New
// archetypes are added by appending rules; existing rules are never modified.
package topology

import (
	"regexp"
	"strconv"
	"strings"
)

// Archetype names. ArchetypeUnknown is a valid detection result; it becomes
// fatal only later, at plan selection.
const (
	ArchetypeUnknown       = "unknown"
	ArchetypeOneHostIBDGX1 = "one_host_ib_dgx1"
)

// Machine is the result of hardware detection: the archetype name and, for
// recognized machines, the intra-node link model.
type Machine struct {
	Archetype string
	Topo      *Topology
}

// Topology is a link-adjacency model restricted to NVLink connections
// between compute devices on one node.
type Topology struct {
	links [][]int
}

// NumDevices returns the number of devices in the link graph.
func (t *Topology) NumDevices() int {
	return len(t.links)
}

// LinkCount returns the number of NVLink lanes between devices i and j.
func (t *Topology) LinkCount(i, j int) int {
	if i < 0 || j < 0 || i >= len(t.links) || j >= len(t.links) {
		return 0
	}
	return t.links[i][j]
}

// DeviceOrder returns the devices in enumeration order.
func (t *Topology) DeviceOrder() []int {
	order := make([]int, t.NumDevices())
	for i := range order {
		order[i] = i
	}
	return order
}

var gpuRowPattern = regexp.MustCompile(`^GPU(\d+)$`)

func containsSelfCell(fields []string) bool {
	for _, f := range fields {
		if f == "X" {
			return true
		}
	}
	return false
}

// nvlinkFromReport parses the textual interconnect report into the
// NVLink-only adjacency model. The report is a matrix: one header line of
// column labels, then one row per endpoint. Only GPU rows and NV-typed cells
// contribute edges; PIX, PXB, PHB, NODE and SYS adjacencies are deliberately
// excluded.
func nvlinkFromReport(report string) *Topology {
	lines := strings.Split(report, "\n")

	// Both the header and the first matrix row begin with "GPU0"; the header
	// is the one without a diagonal "X" cell.
	var labels []string
	rows := make(map[int][]string)
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 || !strings.HasPrefix(fields[0], "GPU") {
			continue
		}
		if labels == nil && !containsSelfCell(fields) {
			labels = fields
			continue
		}
		m := gpuRowPattern.FindStringSubmatch(fields[0])
		if m == nil || labels == nil {
			continue
		}
		idx, _ := strconv.Atoi(m[1])
		rows[idx] = fields[1:]
	}

	n := len(rows)
	topo := &Topology{links: make([][]int, n)}
	for i := range topo.links {
		topo.links[i] = make([]int, n)
	}

	for i, cells := range rows {
		for col, cell := range cells {
			if col >= len(labels) {
				break
			}
			m := gpuRowPattern.FindStringSubmatch(labels[col])
			if m == nil {
				continue
			}
			j, _ := strconv.Atoi(m[1])
			if j >= n || !strings.HasPrefix(cell, "NV") {
				continue
			}
			lanes, err := strconv.Atoi(strings.TrimPrefix(cell, "NV"))
			if err != nil {
				continue
			}
			if i < n {
				topo.links[i][j] = lanes
			}
		}
	}

	return topo
}
