package db

import (
	"errors"
	"strconv"
)

// StorageType defines the document storage backend for FT indexes.
type StorageType string

// StorageHash stores documents as Redis hashes.
const StorageHash StorageType = "HASH"

// IndexFieldType enumerates supported FT index field types.
type IndexFieldType int

const (
	// IndexFieldNumeric is a numeric field.
	IndexFieldNumeric IndexFieldType = iota
	// IndexFieldTag is a tag field.
	IndexFieldTag
	// IndexFieldText is a text field.
	IndexFieldText
	// IndexFieldGeo is a "lon,lat" geo field.
	IndexFieldGeo
)

func (t IndexFieldType) String() string {
	switch t {
	case IndexFieldNumeric:
		return "NUMERIC"
	case IndexFieldTag:
		return "TAG"
	case IndexFieldText:
		return "TEXT"
	case IndexFieldGeo:
		return "GEO"
	}
	return "UNKNOWN"
}

// IndexField describes a single field in an FT index schema.
type IndexField struct {
	Name     string
	Type     IndexFieldType
	Sortable bool

	// TAG options
	TagSeparator     string
	TagCaseSensitive bool

	// TEXT options
	TextWeight float64 // zero means engine default (1.0)
	TextNoStem bool
}

// IndexDefinition is a complete FT index definition used by FT.CREATE.
type IndexDefinition struct {
	Name        string
	StorageType StorageType
	Prefixes    []string
	// NoStopwords disables the engine stopword list (STOPWORDS 0).
	NoStopwords bool
	Fields      []IndexField
}

// FieldNames returns the schema field names in definition order.
func (idx *IndexDefinition) FieldNames() []string {
	out := make([]string, len(idx.Fields))
	for i := range idx.Fields {
		out[i] = idx.Fields[i].Name
	}
	return out
}

// Validate checks that the index definition is well-formed.
func (idx *IndexDefinition) Validate() error {
	if idx.Name == "" {
		return errors.New("index name is required")
	}
	if !IsValidIdentifier(idx.Name) {
		return errors.New("index name contains invalid characters")
	}
	if len(idx.Fields) == 0 {
		return errors.New("at least one field is required")
	}

	seen := make(map[string]bool)
	for i := range idx.Fields {
		f := &idx.Fields[i]
		if f.Name == "" {
			return errors.New("field name is required at index " + strconv.Itoa(i))
		}
		if seen[f.Name] {
			return errors.New("duplicate field name: " + f.Name)
		}
		seen[f.Name] = true

		if f.TextWeight < 0 {
			return errors.New("negative weight for field: " + f.Name)
		}
		if len(f.TagSeparator) > 1 {
			return errors.New("tag separator must be a single character: " + f.Name)
		}
	}

	return nil
}

// IndexInfo is the subset of FT.INFO the service relies on.
type IndexInfo struct {
	Name       string
	NumDocs    int64
	Attributes []string
	// Indexing is true while a background scan of existing keys is in progress.
	Indexing bool
}

// IsValidIdentifier returns true if s matches [a-zA-Z0-9_:-]+.
func IsValidIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		isAlpha := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		isDigit := r >= '0' && r <= '9'
		isSpecial := r == '_' || r == ':' || r == '-'
		if !isAlpha && !isDigit && !isSpecial {
			return false
		}
	}
	return true
}
