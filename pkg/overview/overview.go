package overview

import (
	"sort"
	"time"

	"github.com/paulmach/orb"

	"github.com/nicktill/tinysummary/pkg/period"
)

// MaxTimelineBuckets is the most timeline buckets a composed overview keeps
// before its timeline is regrouped into coarser buckets.
const MaxTimelineBuckets = 366

// TimeRange is an inclusive [Earliest, Latest] interval of dataset times.
type TimeRange struct {
	Earliest time.Time `json:"earliest"`
	Latest   time.Time `json:"latest"`
}

// Overview holds aggregated statistics for the datasets of one period.
//
// An overview with DatasetCount == 0 has a nil TimeRange, a nil Footprint
// and empty histograms.
type Overview struct {
	DatasetCount int

	// Sparse counts keyed by the start of each timeline bucket.
	// Bucket size is given by TimelinePeriod.
	TimelineDatasetCounts map[time.Time]int
	TimelinePeriod        period.Granularity

	// Sparse counts keyed by grid cell identifier.
	GridDatasetCounts map[string]int

	TimeRange *TimeRange

	// Union of dataset footprints, nil when no dataset had one.
	Footprint      orb.Geometry
	FootprintCount int

	SizeBytes                 int64
	NewestDatasetCreationTime time.Time

	// Sorted, de-duplicated CRS identifiers.
	CRSes []string

	// When this overview was computed.
	SummaryGenTime time.Time
}

// Empty returns the zero overview generated at the given time.
func Empty(generated time.Time) *Overview {
	return &Overview{
		TimelineDatasetCounts: map[time.Time]int{},
		TimelinePeriod:        period.Day,
		GridDatasetCounts:     map[string]int{},
		SummaryGenTime:        generated,
	}
}

// IsEmpty reports whether the overview covers no datasets
func (o *Overview) IsEmpty() bool {
	return o.DatasetCount == 0
}

// Clone returns a deep copy. Footprint geometry is shared: geometries are
// never mutated after construction.
func (o *Overview) Clone() *Overview {
	c := *o
	c.TimelineDatasetCounts = make(map[time.Time]int, len(o.TimelineDatasetCounts))
	for k, v := range o.TimelineDatasetCounts {
		c.TimelineDatasetCounts[k] = v
	}
	c.GridDatasetCounts = make(map[string]int, len(o.GridDatasetCounts))
	for k, v := range o.GridDatasetCounts {
		c.GridDatasetCounts[k] = v
	}
	if o.TimeRange != nil {
		tr := *o.TimeRange
		c.TimeRange = &tr
	}
	if o.CRSes != nil {
		c.CRSes = append([]string(nil), o.CRSes...)
	}
	return &c
}

// Regroup returns a copy whose timeline uses buckets of granularity g.
// Buckets never get finer: if g is finer than the current period the copy is unchanged.
func (o *Overview) Regroup(g period.Granularity) *Overview {
	c := o.Clone()
	if g <= o.TimelinePeriod {
		return c
	}
	c.TimelineDatasetCounts = rebucket(o.TimelineDatasetCounts, g)
	c.TimelinePeriod = g
	return c
}

// Compact regroups the timeline into coarser buckets until at most max remain
// or the buckets are years.
func (o *Overview) Compact(max int) *Overview {
	c := o
	for len(c.TimelineDatasetCounts) > max && c.TimelinePeriod < period.Year {
		c = c.Regroup(c.TimelinePeriod + 1)
	}
	if c == o {
		return o.Clone()
	}
	return c
}

// TimelineBuckets returns timeline bucket starts in ascending order.
func (o *Overview) TimelineBuckets() []time.Time {
	keys := make([]time.Time, 0, len(o.TimelineDatasetCounts))
	for k := range o.TimelineDatasetCounts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })
	return keys
}

// GridCells returns grid cell identifiers in ascending order.
func (o *Overview) GridCells() []string {
	keys := make([]string, 0, len(o.GridDatasetCounts))
	for k := range o.GridDatasetCounts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func rebucket(counts map[time.Time]int, g period.Granularity) map[time.Time]int {
	out := make(map[time.Time]int, len(counts))
	for k, v := range counts {
		out[period.Truncate(k, g)] += v
	}
	return out
}

// NormalizeCRSes sorts and de-duplicates CRS identifiers. Empty input yields nil.
func NormalizeCRSes(crses []string) []string {
	if len(crses) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(crses))
	out := make([]string, 0, len(crses))
	for _, crs := range crses {
		if crs == "" {
			continue
		}
		if _, ok := seen[crs]; ok {
			continue
		}
		seen[crs] = struct{}{}
		out = append(out, crs)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}
