package topology

import "regexp"

// Rule classifies a report into one archetype. Rules are evaluated in order
// and the first match wins; the rule set is extended by appending, never by
// editing existing entries.
type Rule struct {
	// Archetype is the name returned when Match succeeds.
	Archetype string

	// Match inspects the raw report and the NVLink model.
	Match func(report string, topo *Topology) bool
}

// Infiniband NIC rows in the report. A host-local NIC shows only NODE
// adjacency to every GPU plus its own diagonal X: no PIX/PXB/SYS hops, which
// would indicate the NIC hangs off a switch or a remote socket.
var (
	ibHostLocalRow = regexp.MustCompile(`(?m)^mlx\d+_\d+(?:[ \t]+NODE)*[ \t]+X(?:[ \t]+NODE)*[ \t]*$`)
	ibAnyRow       = regexp.MustCompile(`(?m)^mlx\d+_\d+.*$`)
)

// isOneHostIBDGX1 recognizes DGX-1 style nodes: exactly 8 devices in the
// NVLink graph and exactly one Infiniband NIC in the whole report, that NIC
// being host-local. Any other NIC count means an unknown network
// configuration.
func isOneHostIBDGX1(report string, topo *Topology) bool {
	if topo.NumDevices() != 8 {
		return false
	}
	hostLocal := ibHostLocalRow.FindAllString(report, -1)
	any := ibAnyRow.FindAllString(report, -1)
	return len(hostLocal) == 1 && len(any) == 1
}

// defaultRules is the ordered classification rule set.
var defaultRules = []Rule{
	{Archetype: ArchetypeOneHostIBDGX1, Match: isOneHostIBDGX1},
}

// ArchetypeFromReport classifies a raw interconnect report. It is a pure
// function: identical report text always yields the identical archetype.
// Reports matching no rule classify as ArchetypeUnknown with no topology
// model.
func ArchetypeFromReport(report string) (string, *Topology) {
	return archetypeFromReport(report, defaultRules)
}

func archetypeFromReport(report string, rules []Rule) (string, *Topology) {
	topo := nvlinkFromReport(report)
	for _, rule := range rules {
		if rule.Match(report, topo) {
			return rule.Archetype, topo
		}
	}
	return ArchetypeUnknown, nil
}
