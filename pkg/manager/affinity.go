package manager

import (
	"encoding/json"
	"sort"

	"github.com/whamworks/resourced/pkg/storage"
	"github.com/whamworks/resourced/pkg/types"
)

// balanceAffinity places every volume in volumeIDs: the weighted-path rule
// applies where every candidate VolumeNode has at least one PathWeight
// ancestor, otherwise the unweighted primary/secondary balancing fallback
// takes over. Running per-host counters carry across volumes in this call so
// later placements see earlier ones, seeded from fleet-wide state excluding
// the volumes being rebalanced.
func (m *Manager) balanceAffinity(b *storage.Batch, volumeIDs map[string]bool) error {
	if len(volumeIDs) == 0 {
		return nil
	}

	allNodes, err := b.ListAllVolumeNodes()
	if err != nil {
		return err
	}
	liveNodesPerVolume := map[string]int{}
	for _, vn := range allNodes {
		if !vn.NotDeleted {
			continue
		}
		liveNodesPerVolume[vn.VolumeID]++
	}

	primaryCount := map[string]int{}
	usedCount := map[string]int{}
	for _, vn := range allNodes {
		if volumeIDs[vn.VolumeID] || !vn.NotDeleted {
			continue
		}
		// Only give a host credit for a primary node if the node's volume
		// has more than one live VolumeNode; otherwise single-node ("local")
		// volumes would inflate a host's primary count with load that has
		// nothing to do with shared-volume placement.
		if vn.Primary && liveNodesPerVolume[vn.VolumeID] > 1 {
			primaryCount[vn.HostID]++
		}
		if vn.Use {
			usedCount[vn.HostID]++
		}
	}

	type volEntry struct {
		id    string
		label string
	}
	var ordered []volEntry
	for volID := range volumeIDs {
		vol, found, err := b.GetVolume(volID)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		ordered = append(ordered, volEntry{volID, vol.Label})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].label < ordered[j].label })

	isPathWeight := func(id string) bool {
		cid, ok := m.classes.Get(id)
		if !ok {
			return false
		}
		d, ok := m.classDescriptor(cid)
		return ok && d.IsPathWeight
	}

	fqdnCache := map[string]string{}
	hostFQDN := func(hostID string) (string, error) {
		if fqdn, ok := fqdnCache[hostID]; ok {
			return fqdn, nil
		}
		host, found, err := b.GetManagedHost(hostID)
		if err != nil || !found {
			return "", err
		}
		fqdnCache[hostID] = host.FQDN
		return host.FQDN, nil
	}

	for _, entry := range ordered {
		nodes, err := b.ListVolumeNodesByVolume(entry.id)
		if err != nil {
			return err
		}
		var candidates []*types.VolumeNode
		for _, vn := range nodes {
			if vn.NotDeleted {
				candidates = append(candidates, vn)
			}
		}
		if len(candidates) == 0 {
			continue
		}

		weights := make([]int, len(candidates))
		allWeighted := true
		for i, vn := range candidates {
			w, has, err := m.pathWeightSum(b, vn.StorageResourceID, isPathWeight)
			if err != nil {
				return err
			}
			if !has {
				allWeighted = false
			}
			weights[i] = w
		}

		if allWeighted {
			if err := m.placeWeighted(b, candidates, weights); err != nil {
				return err
			}
			continue
		}
		if err := m.placeUnweighted(b, candidates, primaryCount, usedCount, hostFQDN); err != nil {
			return err
		}
	}
	return nil
}

// placeWeighted assigns primary/secondary by descending summed PathWeight,
// ties broken by input order.
func (m *Manager) placeWeighted(b *storage.Batch, candidates []*types.VolumeNode, weights []int) error {
	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, c int) bool { return weights[order[a]] > weights[order[c]] })

	for rank, idx := range order {
		vn := candidates[idx]
		vn.Primary = rank == 0
		vn.Use = rank == 0 || rank == 1
		if err := b.UpsertVolumeNode(vn); err != nil {
			return err
		}
	}
	return nil
}

// placeUnweighted is the fallback when a candidate lacks path weights:
// primary is the host with the fewest existing primaries (ties: smallest FQDN);
// secondary is restricted to the primary host's HA cluster, chosen by
// fewest used nodes; everything else is use=false, primary=false.
func (m *Manager) placeUnweighted(b *storage.Batch, candidates []*types.VolumeNode, primaryCount, usedCount map[string]int, hostFQDN func(string) (string, error)) error {
	primaryIdx := 0
	primaryFQDN, err := hostFQDN(candidates[0].HostID)
	if err != nil {
		return err
	}
	for i := 1; i < len(candidates); i++ {
		fqdn, err := hostFQDN(candidates[i].HostID)
		if err != nil {
			return err
		}
		cur := candidates[primaryIdx]
		cand := candidates[i]
		switch {
		case primaryCount[cand.HostID] < primaryCount[cur.HostID]:
			primaryIdx, primaryFQDN = i, fqdn
		case primaryCount[cand.HostID] == primaryCount[cur.HostID] && fqdn < primaryFQDN:
			primaryIdx, primaryFQDN = i, fqdn
		}
	}

	primary := candidates[primaryIdx]
	primaryHost, found, err := b.GetManagedHost(primary.HostID)
	if err != nil {
		return err
	}

	secondaryIdx := -1
	if found && primaryHost.HaClusterID != "" {
		for i, vn := range candidates {
			if i == primaryIdx {
				continue
			}
			host, found, err := b.GetManagedHost(vn.HostID)
			if err != nil {
				return err
			}
			if !found || host.HaClusterID != primaryHost.HaClusterID {
				continue
			}
			if secondaryIdx == -1 || usedCount[vn.HostID] < usedCount[candidates[secondaryIdx].HostID] {
				secondaryIdx = i
			}
		}
	}

	for i, vn := range candidates {
		vn.Primary = i == primaryIdx
		vn.Use = i == primaryIdx || i == secondaryIdx
		if err := b.UpsertVolumeNode(vn); err != nil {
			return err
		}
	}
	primaryCount[primary.HostID]++
	usedCount[primary.HostID]++
	if secondaryIdx != -1 {
		usedCount[candidates[secondaryIdx].HostID]++
	}
	return nil
}

// pathWeightSum sums the "weight" attribute of every PathWeight-class
// ancestor of recordID. has is false when recordID has no PathWeight
// ancestor at all, signalling the volume must use the unweighted fallback.
func (m *Manager) pathWeightSum(b *storage.Batch, recordID string, isPathWeight func(string) bool) (sum int, has bool, err error) {
	for _, ancestor := range collectAncestors(m.edges, recordID, isPathWeight) {
		attr, found, err := b.GetAttribute(ancestor, "weight")
		if err != nil {
			return 0, false, err
		}
		if !found || attr.Kind != types.AttributeSerialized {
			continue
		}
		var w int
		if err := json.Unmarshal(attr.Value, &w); err != nil {
			continue
		}
		sum += w
		has = true
	}
	return sum, has, nil
}
