// Package sched implements a CFS-style scheduler: per-CPU run queues of
// scheduling entities keyed by virtual runtime, nice-to-weight mapping,
// wake-up balancing, preemption rules, and periodic load balancing
// across CPUs. Grounded on gvisor's pkg/sentry/kernel/sched (the
// CPUSet/affinity types referenced from TaskConfig in task_start.go)
// generalized from an affinity-only helper into a full CFS runtime.
package sched

// NiceMin and NiceMax bound the nice value, Linux convention: -20 is
// most favored, 19 is least favored.
const (
	NiceMin = -20
	NiceMax = 19

	// NICE0Weight is the load weight of a nice-0 entity: the unit from
	// which every other nice level's weight is derived.
	NICE0Weight = 1024
)

// niceToWeight is the published nice-to-weight table (kernel/sched/core.c
// sched_prio_to_weight), indexed by nice+20.
var niceToWeight = [40]uint64{
	88761, 71755, 56483, 46273, 36291,
	29154, 23254, 18705, 14949, 11916,
	9548, 7620, 6100, 4904, 3906,
	3121, 2501, 1991, 1586, 1277,
	1024, 820, 655, 526, 423,
	335, 272, 215, 172, 137,
	110, 87, 70, 56, 45,
	36, 29, 23, 18, 15,
}

// niceToInvWeight is the companion sched_prio_to_wmult table: a
// fixed-point reciprocal of niceToWeight (2^32 / weight), used so
// vruntime growth can be computed with a multiply instead of a divide.
var niceToInvWeight = [40]uint64{
	48388, 59856, 76040, 92818, 118348,
	147320, 184698, 229616, 287308, 360437,
	449829, 563644, 704093, 875809, 1099582,
	1376151, 1717300, 2157191, 2708050, 3363326,
	4194304, 5237765, 6557202, 8165337, 10153587,
	12820798, 15790321, 19976592, 24970740, 31350126,
	39045157, 49367440, 61356676, 76695844, 95443717,
	119304647, 148102320, 186737708, 238609294, 286331153,
}

// WeightForNice returns the load weight for a clamped nice value.
func WeightForNice(nice int) uint64 {
	return niceToWeight[clampNiceIndex(nice)]
}

// InvWeightForNice returns the fixed-point inverse weight for a clamped
// nice value.
func InvWeightForNice(nice int) uint64 {
	return niceToInvWeight[clampNiceIndex(nice)]
}

func clampNiceIndex(nice int) int {
	if nice < NiceMin {
		nice = NiceMin
	}
	if nice > NiceMax {
		nice = NiceMax
	}
	return nice + 20
}
