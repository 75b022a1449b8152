package reference

import (
	"sort"

	"github.com/neuracq/spikeline/internal/config"
)

// Clusterer groups detected spike vectors into units. Spike clustering is an
// external capability; implementations plug in here.
type Clusterer interface {
	Cluster(vectors [][]float64) (labels []int, numUnits int)
}

// PeakChannelClusterer is the default: each spike belongs to the unit of its
// deepest channel, and units are numbered in ascending x-coordinate of that
// channel (then y, then channel index).
type PeakChannelClusterer struct {
	Coords []config.Coord
}

// Cluster implements Clusterer.
func (c *PeakChannelClusterer) Cluster(vectors [][]float64) ([]int, int) {
	peaks := make([]int, len(vectors))
	seen := make(map[int]bool)

	for i, vec := range vectors {
		peak := 0
		for ch, v := range vec {
			if v < vec[peak] {
				peak = ch
			}
		}

		peaks[i] = peak
		seen[peak] = true
	}

	channels := make([]int, 0, len(seen))
	for ch := range seen {
		channels = append(channels, ch)
	}

	sort.Slice(channels, func(i, j int) bool {
		a, b := c.Coords[channels[i]], c.Coords[channels[j]]
		if a.X != b.X {
			return a.X < b.X
		}

		if a.Y != b.Y {
			return a.Y < b.Y
		}

		return channels[i] < channels[j]
	})

	unitOf := make(map[int]int, len(channels))
	for unit, ch := range channels {
		unitOf[ch] = unit
	}

	labels := make([]int, len(vectors))
	for i, peak := range peaks {
		labels[i] = unitOf[peak]
	}

	return labels, len(channels)
}
