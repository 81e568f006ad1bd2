// Package color turns up to three per-cell features into one colour per cell.
//
// Numeric features (genes, regulons, metrics) are scaled into 0..225 and
// packed into the red, green and blue channels of a 6-digit hex colour, in
// push order. Categorical features (annotations, clusterings) take a palette
// colour per category and short-circuit the pipeline: they are never blended
// with other channels.
//
//	p, err := color.New(ctx, handle, color.Options{Log2: true})
//	for _, f := range features {
//		if err := p.Push(ctx, f); err != nil {
//			return err
//		}
//	}
//	block, err := p.CompressedHexVec()
//
// Cells whose channels are all zero get the Sentinel colour.
package color
