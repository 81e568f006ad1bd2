package dataset

import (
	"strconv"

	"github.com/hupe1980/scopeserve/codec"
)

// MetadataAttr is the global attribute holding the JSON metadata blob.
const MetadataAttr = "MetaData"

// Metadata is the dataset-level description stored in the MetaData global
// attribute.
type Metadata struct {
	Embeddings        []Embedding        `json:"embeddings"`
	Clusterings       []Clustering       `json:"clusterings"`
	Annotations       []Annotation       `json:"annotations"`
	Metrics           []Metric           `json:"metrics"`
	RegulonThresholds []RegulonThreshold `json:"regulonThresholds,omitempty"`
	RegionGeneLinks   []RegionGeneLink   `json:"regionGeneLinks,omitempty"`
}

// Embedding names a 2-D cell layout. Id -1 is the default embedding stored in
// the Embedding column attribute.
type Embedding struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Clustering is one partition of the cells.
type Clustering struct {
	ID                   int            `json:"id"`
	Group                string         `json:"group"`
	Name                 string         `json:"name"`
	Clusters             []Cluster      `json:"clusters"`
	ClusterMarkerMetrics []MarkerMetric `json:"clusterMarkerMetrics,omitempty"`
}

// Cluster is one group within a clustering.
type Cluster struct {
	ID                 int                  `json:"id"`
	Description        string               `json:"description"`
	CellTypeAnnotation []CellTypeAnnotation `json:"cell_type_annotation,omitempty"`
}

// MarkerMetric describes a per-marker statistic column.
type MarkerMetric struct {
	Accessor    string `json:"accessor"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CellTypeAnnotation is a collaborative label attached to a cluster.
type CellTypeAnnotation struct {
	Data         AnnotationData `json:"data"`
	ValidateHash string         `json:"validate_hash"`
	Votes        Votes          `json:"votes"`
}

// AnnotationData is the curator-supplied part of a cell type annotation.
type AnnotationData struct {
	CuratorID     string   `json:"curator_id"`
	CuratorName   string   `json:"curator_name"`
	Timestamp     int64    `json:"timestamp"`
	OBOID         string   `json:"obo_id"`
	OntologyLabel string   `json:"ontology_label"`
	OntologyID    string   `json:"ontology_id"`
	Markers       []string `json:"markers"`
	Publication   string   `json:"publication"`
	Comment       string   `json:"comment"`
}

// Votes tallies agreement on an annotation.
type Votes struct {
	For     Tally `json:"votes_for"`
	Against Tally `json:"votes_against"`
}

// Tally is one side of a vote.
type Tally struct {
	Total  int     `json:"total"`
	Voters []Voter `json:"voters"`
}

// Voter records who voted.
type Voter struct {
	VoterID      string `json:"voter_id"`
	VoterName    string `json:"voter_name"`
	VoterHash    string `json:"voter_hash"`
	VoterTimeStr string `json:"voter_timestamp"`
}

// Annotation is a categorical per-cell attribute and its allowed values.
type Annotation struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// Metric is a numeric per-cell attribute.
type Metric struct {
	Name string `json:"name"`
}

// RegulonThreshold carries the default AUC cut-off of a regulon.
type RegulonThreshold struct {
	Regulon               string             `json:"regulon"`
	DefaultThresholdValue float64            `json:"defaultThresholdValue"`
	DefaultMetricValue    float64            `json:"defaultMetricValue"`
	MotifData             string             `json:"motifData"`
	AllThresholds         map[string]float64 `json:"allThresholds,omitempty"`
	MetricAccessor        string             `json:"metricAccessor,omitempty"`
}

// RegionGeneLink links a genomic region to a gene.
type RegionGeneLink struct {
	Region string `json:"region"`
	Gene   string `json:"gene"`
}

// ParseMetadata decodes a metadata blob. An empty blob yields empty metadata.
func ParseMetadata(c codec.Codec, blob string) (*Metadata, error) {
	md := &Metadata{}
	if blob == "" {
		return md, nil
	}
	if c == nil {
		c = codec.Default
	}
	if err := c.Unmarshal([]byte(blob), md); err != nil {
		return nil, err
	}
	return md, nil
}

// Encode serializes m for storage in the MetaData attribute.
func (m *Metadata) Encode(c codec.Codec) (string, error) {
	if c == nil {
		c = codec.Default
	}
	b, err := c.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Clone returns a deep copy of m.
func (m *Metadata) Clone() *Metadata {
	out := &Metadata{
		Embeddings:      append([]Embedding(nil), m.Embeddings...),
		Metrics:         append([]Metric(nil), m.Metrics...),
		RegionGeneLinks: append([]RegionGeneLink(nil), m.RegionGeneLinks...),
	}
	for _, a := range m.Annotations {
		out.Annotations = append(out.Annotations, Annotation{Name: a.Name, Values: append([]string(nil), a.Values...)})
	}
	for _, rt := range m.RegulonThresholds {
		if rt.AllThresholds != nil {
			all := make(map[string]float64, len(rt.AllThresholds))
			for k, v := range rt.AllThresholds {
				all[k] = v
			}
			rt.AllThresholds = all
		}
		out.RegulonThresholds = append(out.RegulonThresholds, rt)
	}
	for _, c := range m.Clusterings {
		cc := c
		cc.ClusterMarkerMetrics = append([]MarkerMetric(nil), c.ClusterMarkerMetrics...)
		cc.Clusters = make([]Cluster, len(c.Clusters))
		for i, cl := range c.Clusters {
			cc.Clusters[i] = cl
			cc.Clusters[i].CellTypeAnnotation = nil
			for _, a := range cl.CellTypeAnnotation {
				a.Data.Markers = append([]string(nil), a.Data.Markers...)
				a.Votes.For.Voters = append([]Voter(nil), a.Votes.For.Voters...)
				a.Votes.Against.Voters = append([]Voter(nil), a.Votes.Against.Voters...)
				cc.Clusters[i].CellTypeAnnotation = append(cc.Clusters[i].CellTypeAnnotation, a)
			}
		}
		out.Clusterings = append(out.Clusterings, cc)
	}
	return out
}

// Clustering returns the clustering with the given id.
func (m *Metadata) Clustering(id int) (*Clustering, bool) {
	for i := range m.Clusterings {
		if m.Clusterings[i].ID == id {
			return &m.Clusterings[i], true
		}
	}
	return nil, false
}

// ClusteringByName returns the clustering with the given name.
func (m *Metadata) ClusteringByName(name string) (*Clustering, bool) {
	for i := range m.Clusterings {
		if m.Clusterings[i].Name == name {
			return &m.Clusterings[i], true
		}
	}
	return nil, false
}

// Annotation returns the annotation with the given name.
func (m *Metadata) Annotation(name string) (*Annotation, bool) {
	for i := range m.Annotations {
		if m.Annotations[i].Name == name {
			return &m.Annotations[i], true
		}
	}
	return nil, false
}

// HasMetric reports whether a metric named name is declared.
func (m *Metadata) HasMetric(name string) bool {
	for _, mt := range m.Metrics {
		if mt.Name == name {
			return true
		}
	}
	return false
}

// Embedding returns the embedding with the given id.
func (m *Metadata) Embedding(id int) (*Embedding, bool) {
	for i := range m.Embeddings {
		if m.Embeddings[i].ID == id {
			return &m.Embeddings[i], true
		}
	}
	return nil, false
}

// RegulonThreshold returns the threshold entry of a regulon.
func (m *Metadata) RegulonThreshold(regulon string) (*RegulonThreshold, bool) {
	for i := range m.RegulonThresholds {
		if m.RegulonThresholds[i].Regulon == regulon {
			return &m.RegulonThresholds[i], true
		}
	}
	return nil, false
}

// Cluster returns the cluster with the given id.
func (c *Clustering) Cluster(id int) (*Cluster, bool) {
	for i := range c.Clusters {
		if c.Clusters[i].ID == id {
			return &c.Clusters[i], true
		}
	}
	return nil, false
}

// ClusterByDescription returns the cluster with the given description.
func (c *Clustering) ClusterByDescription(desc string) (*Cluster, bool) {
	for i := range c.Clusters {
		if c.Clusters[i].Description == desc {
			return &c.Clusters[i], true
		}
	}
	return nil, false
}

// ColumnName is the table column holding the clustering in the Clusterings
// column attribute.
func (c *Clustering) ColumnName() string { return strconv.Itoa(c.ID) }

// MarkerAttr is the row attribute holding the marker table of clustering id.
func MarkerAttr(clusteringID int) string {
	return "ClusterMarkers_" + strconv.Itoa(clusteringID)
}

// Well-known attribute names.
const (
	AttrGene        = "Gene"
	AttrRegulons    = "Regulons"
	AttrCellID      = "CellID"
	AttrRegulonsAUC = "RegulonsAUC"
	AttrClusterings = "Clusterings"
	AttrEmbedding   = "Embedding"
	AttrEmbeddingsX = "Embeddings_X"
	AttrEmbeddingsY = "Embeddings_Y"
	AttrTitle       = "title"
	AttrGenome      = "Genome"
	AttrCreation    = "CreationDate"
)
