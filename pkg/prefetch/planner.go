package prefetch

import "math"

// PlanInput is the read progress the planner decides from.
type PlanInput struct {
	Offset         uint64
	Size           uint64
	PreviousWindow uint64
	Sequential     bool
}

// WindowPlan is the planner's decision for the next lookahead window.
type WindowPlan struct {
	// Range is the window clipped to the object size.
	Range Range
	// Window is the window size before clipping.
	Window uint64
	// Parts splits Range into consecutive GETs of at most PartSize bytes.
	Parts []Range
}

// PlanWindow decides the next range to fetch. It has no side effects.
func PlanWindow(cfg Config, in PlanInput) WindowPlan {
	cfg = cfg.withDefaults()

	window := cfg.InitialWindowBytes
	if in.Sequential && in.PreviousWindow > 0 {
		window = growWindow(in.PreviousWindow, cfg.SequentialGrowthFactor, cfg.MaxWindowBytes)
	}
	if window > cfg.MaxWindowBytes {
		window = cfg.MaxWindowBytes
	}

	plan := WindowPlan{Window: window}
	if in.Offset >= in.Size {
		plan.Range = Range{Start: in.Size, End: in.Size}
		return plan
	}

	end := in.Size
	if in.Size-in.Offset > window {
		end = in.Offset + window
	}
	plan.Range = Range{Start: in.Offset, End: end}
	plan.Parts = splitRange(plan.Range, cfg.PartSize)
	return plan
}

func growWindow(prev, factor, max uint64) uint64 {
	if factor <= 1 {
		return min(prev, max)
	}
	if prev > math.MaxUint64/factor {
		return max
	}
	return min(prev*factor, max)
}

func splitRange(r Range, partSize uint64) []Range {
	if r.Len() == 0 {
		return nil
	}
	parts := make([]Range, 0, (r.Len()+partSize-1)/partSize)
	for start := r.Start; start < r.End; {
		end := r.End
		if r.End-start > partSize {
			end = start + partSize
		}
		parts = append(parts, Range{Start: start, End: end})
		start = end
	}
	return parts
}
