package overview

import (
	"time"

	"github.com/paulmach/orb"

	"github.com/nicktill/tinysummary/pkg/period"
)

// UnionFunc combines footprint geometries. It must be order independent.
type UnionFunc func(geoms []orb.Geometry) orb.Geometry

// Compositor merges overviews of adjacent or nested periods into one.
type Compositor struct {
	// Union combines footprints (default: UnionPolygons)
	Union UnionFunc

	// Now stamps SummaryGenTime of merged overviews (default: time.Now in UTC)
	Now func() time.Time
}

// DefaultCompositor is used by Merge.
var DefaultCompositor = Compositor{}

// Merge combines overviews with the DefaultCompositor.
func Merge(overviews ...*Overview) *Overview {
	return DefaultCompositor.Merge(overviews...)
}

// Merge combines overviews into one coarser overview.
//
// Merging is associative and commutative: counts and histograms are summed,
// time ranges widened, footprints unioned and CRS sets unioned. Nil inputs are
// absent periods and contribute nothing. Timelines are aligned to the coarsest
// bucket size among the inputs. The result is stamped with the merge time,
// not the generation time of any input.
func (c Compositor) Merge(overviews ...*Overview) *Overview {
	out := Empty(c.now())

	target := period.Day
	for _, o := range overviews {
		if o != nil && len(o.TimelineDatasetCounts) > 0 && o.TimelinePeriod > target {
			target = o.TimelinePeriod
		}
	}
	out.TimelinePeriod = target

	var footprints []orb.Geometry
	var crses []string

	for _, o := range overviews {
		if o == nil {
			continue
		}

		out.DatasetCount += o.DatasetCount
		out.FootprintCount += o.FootprintCount
		out.SizeBytes += o.SizeBytes

		for k, v := range o.TimelineDatasetCounts {
			out.TimelineDatasetCounts[period.Truncate(k, target)] += v
		}
		for k, v := range o.GridDatasetCounts {
			out.GridDatasetCounts[k] += v
		}

		if o.TimeRange != nil {
			if out.TimeRange == nil {
				tr := *o.TimeRange
				out.TimeRange = &tr
			} else {
				if o.TimeRange.Earliest.Before(out.TimeRange.Earliest) {
					out.TimeRange.Earliest = o.TimeRange.Earliest
				}
				if o.TimeRange.Latest.After(out.TimeRange.Latest) {
					out.TimeRange.Latest = o.TimeRange.Latest
				}
			}
		}

		if o.Footprint != nil {
			footprints = append(footprints, o.Footprint)
		}
		if o.NewestDatasetCreationTime.After(out.NewestDatasetCreationTime) {
			out.NewestDatasetCreationTime = o.NewestDatasetCreationTime
		}
		crses = append(crses, o.CRSes...)
	}

	if len(footprints) > 0 {
		out.Footprint = c.union()(footprints)
	}
	out.CRSes = NormalizeCRSes(crses)

	return out
}

func (c Compositor) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

func (c Compositor) union() UnionFunc {
	if c.Union != nil {
		return c.Union
	}
	return UnionPolygons
}
