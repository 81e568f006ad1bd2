package search

import "github.com/hupe1980/scopeserve/dataset"

// MetadataResolver resolves cluster-derived results against dataset metadata.
type MetadataResolver struct {
	Metadata *dataset.Metadata
}

// ClusteringName implements Resolver.
func (r MetadataResolver) ClusteringName(clusteringID int) (string, bool) {
	c, ok := r.Metadata.Clustering(clusteringID)
	if !ok {
		return "", false
	}
	return c.Name, true
}

// ClusterName implements Resolver.
func (r MetadataResolver) ClusterName(clusteringID, clusterID int) (string, bool) {
	c, ok := r.Metadata.Clustering(clusteringID)
	if !ok {
		return "", false
	}
	cl, ok := c.Cluster(clusterID)
	if !ok {
		return "", false
	}
	return cl.Description, true
}
