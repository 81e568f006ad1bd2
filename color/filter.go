package color

import (
	"fmt"
	"slices"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"
)

// Logic combines cell filters.
type Logic uint8

const (
	LogicAnd Logic = iota
	LogicOr
)

func (l Logic) String() string {
	if l == LogicOr {
		return "OR"
	}
	return "AND"
}

// ParseLogic accepts "AND" and "OR" in any case; empty means AND.
func ParseLogic(s string) (Logic, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "AND":
		return LogicAnd, nil
	case "OR":
		return LogicOr, nil
	default:
		return 0, fmt.Errorf("%w: logic %q", ErrInvalidRequest, s)
	}
}

// Filter selects the cells whose annotation value, or cluster description
// when Clustering is set, is one of Values.
type Filter struct {
	Name       string
	Clustering bool
	Values     []string
}

// selectCells evaluates filters into a bitmap of cell indices. A nil bitmap
// selects every cell.
func selectCells(src Source, filters []Filter, logic Logic) (*roaring.Bitmap, error) {
	if len(filters) == 0 {
		return nil, nil
	}
	var acc *roaring.Bitmap
	for _, f := range filters {
		bm, err := filterCells(src, f)
		if err != nil {
			return nil, err
		}
		switch {
		case acc == nil:
			acc = bm
		case logic == LogicOr:
			acc.Or(bm)
		default:
			acc.And(bm)
		}
	}
	return acc, nil
}

func filterCells(src Source, f Filter) (*roaring.Bitmap, error) {
	bm := roaring.New()
	if !f.Clustering {
		values, err := src.Annotation(f.Name)
		if err != nil {
			return nil, err
		}
		for i, v := range values {
			if slices.Contains(f.Values, v) {
				bm.Add(uint32(i))
			}
		}
		return bm, nil
	}

	md, err := src.Metadata()
	if err != nil {
		return nil, err
	}
	c, err := lookupClustering(md, f.Name)
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(f.Values))
	for _, desc := range f.Values {
		cl, ok := c.ClusterByDescription(desc)
		if !ok {
			return nil, fmt.Errorf("%w: cluster %q of %q", ErrUnknownFeature, desc, c.Name)
		}
		ids = append(ids, cl.ID)
	}
	assign, err := src.Clustering(c.ID)
	if err != nil {
		return nil, err
	}
	for i, id := range assign {
		if slices.Contains(ids, id) {
			bm.Add(uint32(i))
		}
	}
	return bm, nil
}
