package search

// Index names are versioned: their fields and vector dimension are part of
// the public contract, so any change that breaks downstream readers must bump
// the suffix.
const (
	CSVIndexName     = "motorcycle-specs-v1"
	PDFIndexName     = "motorcycle-manuals-v1"
	UnifiedIndexName = "motorcycle-unified-v1"
)

// DefaultVectorDimension matches the standard embedding model.
const DefaultVectorDimension = 3072

// IndexDefinition describes one index schema.
type IndexDefinition struct {
	Name         string            `json:"name"`
	Fields       []FieldDefinition `json:"fields"`
	VectorSearch *VectorSearch     `json:"vectorSearch,omitempty"`
}

// FieldDefinition describes one index field.
type FieldDefinition struct {
	Name                string `json:"name"`
	Type                string `json:"type"`
	Key                 bool   `json:"key,omitempty"`
	Searchable          bool   `json:"searchable,omitempty"`
	Filterable          bool   `json:"filterable,omitempty"`
	Sortable            bool   `json:"sortable,omitempty"`
	Analyzer            string `json:"analyzer,omitempty"`
	Dimensions          int    `json:"dimensions,omitempty"`
	VectorSearchProfile string `json:"vectorSearchProfile,omitempty"`
}

// VectorSearch configures the dense-vector side of hybrid search.
type VectorSearch struct {
	Profiles   []VectorProfile   `json:"profiles"`
	Algorithms []VectorAlgorithm `json:"algorithms"`
}

// VectorProfile binds a profile name to an algorithm.
type VectorProfile struct {
	Name      string `json:"name"`
	Algorithm string `json:"algorithm"`
}

// VectorAlgorithm names an ANN algorithm configuration.
type VectorAlgorithm struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// VectorDimension returns the dimension of the schema's vector field, or 0
// when the schema carries none.
func (d IndexDefinition) VectorDimension() int {
	for _, f := range d.Fields {
		if f.Name == "content_vector" {
			return f.Dimensions
		}
	}
	return 0
}

func hybridVectorSearch() *VectorSearch {
	return &VectorSearch{
		Profiles:   []VectorProfile{{Name: "vector-profile", Algorithm: "hnsw-cosine"}},
		Algorithms: []VectorAlgorithm{{Name: "hnsw-cosine", Kind: "hnsw"}},
	}
}

func baseFields(dim int) []FieldDefinition {
	return []FieldDefinition{
		{Name: "id", Type: "Edm.String", Key: true, Filterable: true},
		{Name: "title", Type: "Edm.String", Searchable: true, Sortable: true},
		{Name: "content", Type: "Edm.String", Searchable: true, Analyzer: "en.lucene"},
		{Name: "type", Type: "Edm.String", Filterable: true},
		{Name: "source_file", Type: "Edm.String", Filterable: true},
		{Name: "tags", Type: "Collection(Edm.String)", Filterable: true, Searchable: true},
		{Name: "created_at", Type: "Edm.DateTimeOffset", Sortable: true},
		{Name: "updated_at", Type: "Edm.DateTimeOffset", Sortable: true},
		{Name: "content_vector", Type: "Collection(Edm.Single)", Dimensions: dim, VectorSearchProfile: "vector-profile"},
	}
}

// CSVIndexDefinition is the schema for tabular specification documents:
// strong Make/Model/Year mapping plus a flexible key/value bag.
func CSVIndexDefinition(dim int) IndexDefinition {
	fields := append(baseFields(dim),
		FieldDefinition{Name: "make", Type: "Edm.String", Searchable: true, Filterable: true},
		FieldDefinition{Name: "model", Type: "Edm.String", Searchable: true, Filterable: true},
		FieldDefinition{Name: "year", Type: "Edm.Int32", Filterable: true, Sortable: true},
		FieldDefinition{Name: "additional_properties", Type: "Edm.String", Searchable: true},
	)
	return IndexDefinition{Name: CSVIndexName, Fields: fields, VectorSearch: hybridVectorSearch()}
}

// PDFIndexDefinition is the schema for manual chunks: adds section, page, and
// chunk type for structure-aware retrieval.
func PDFIndexDefinition(dim int) IndexDefinition {
	fields := append(baseFields(dim),
		FieldDefinition{Name: "section", Type: "Edm.String", Searchable: true, Filterable: true},
		FieldDefinition{Name: "page_number", Type: "Edm.Int32", Filterable: true, Sortable: true},
		FieldDefinition{Name: "chunk_type", Type: "Edm.String", Filterable: true},
	)
	return IndexDefinition{Name: PDFIndexName, Fields: fields, VectorSearch: hybridVectorSearch()}
}

// UnifiedIndexDefinition is the superset schema used by the multi-source agent.
func UnifiedIndexDefinition(dim int) IndexDefinition {
	fields := append(baseFields(dim),
		FieldDefinition{Name: "make", Type: "Edm.String", Searchable: true, Filterable: true},
		FieldDefinition{Name: "model", Type: "Edm.String", Searchable: true, Filterable: true},
		FieldDefinition{Name: "year", Type: "Edm.Int32", Filterable: true, Sortable: true},
		FieldDefinition{Name: "section", Type: "Edm.String", Searchable: true, Filterable: true},
		FieldDefinition{Name: "page_number", Type: "Edm.Int32", Filterable: true, Sortable: true},
		FieldDefinition{Name: "chunk_type", Type: "Edm.String", Filterable: true},
		FieldDefinition{Name: "source_url", Type: "Edm.String", Filterable: true},
		FieldDefinition{Name: "additional_properties", Type: "Edm.String", Searchable: true},
	)
	return IndexDefinition{Name: UnifiedIndexName, Fields: fields, VectorSearch: hybridVectorSearch()}
}

// AllIndexDefinitions returns the three schemas in creation order.
func AllIndexDefinitions(dim int) []IndexDefinition {
	if dim <= 0 {
		dim = DefaultVectorDimension
	}
	return []IndexDefinition{
		CSVIndexDefinition(dim),
		PDFIndexDefinition(dim),
		UnifiedIndexDefinition(dim),
	}
}
