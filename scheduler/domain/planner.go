package domain

import "fmt"

// ResourcePlan is the cluster allocation for one worker. Cores is also the
// worker's concurrency bound.
type ResourcePlan struct {
	Cores       int
	MemoryMB    int
	WallMinutes int
}

func (p ResourcePlan) String() string {
	return fmt.Sprintf("cores: %d, mem: %dMB, wall: %dm", p.Cores, p.MemoryMB, p.WallMinutes)
}

const (
	maxPairedCores  = 9
	maxPerItemCores = 20
	fullDayMinutes  = 1440
)

// Plan sizes a job from its type and item count. Unknown types get the single-item plan.
func Plan(jobType JobType, itemCount int) ResourcePlan {
	switch jobType {
	case Intactness:
		// sequences run as pairs, 20GB and 10 minutes per pair
		cores := clamp(itemCount/2, 1, maxPairedCores)
		return ResourcePlan{Cores: cores, MemoryMB: 20000 * cores, WallMinutes: 10 * cores}
	case TCSDR:
		// one single-threaded tool run per read pair, 25GB each
		cores := clamp(itemCount/2, 1, maxPairedCores)
		return ResourcePlan{Cores: cores, MemoryMB: 25000 * cores, WallMinutes: fullDayMinutes}
	case OGV:
		cores := clamp(itemCount, 1, maxPerItemCores)
		return ResourcePlan{Cores: cores, MemoryMB: 5000 * cores, WallMinutes: fullDayMinutes}
	case Splicing:
		return ResourcePlan{Cores: 4, MemoryMB: 20000, WallMinutes: fullDayMinutes}
	default:
		return ResourcePlan{Cores: 1, MemoryMB: 5000, WallMinutes: 60}
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
