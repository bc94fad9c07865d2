package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/listingsearch/internal/db"
)

// CreateIndex creates an FT index from the given definition.
func (s *Store) CreateIndex(ctx context.Context, def *db.IndexDefinition) error {
	args, err := buildCreateArgs(def)
	if err != nil {
		return err
	}

	cmd := s.b().Arbitrary("FT.CREATE").Args(args...).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "index already exists") {
			return db.ErrIndexExists
		}
		return &db.Error{Op: db.OpCreateIndex, Err: err}
	}
	return nil
}

// IndexInfo returns document count and schema attributes of an index.
func (s *Store) IndexInfo(ctx context.Context, name string) (*db.IndexInfo, error) {
	cmd := s.b().Arbitrary("FT.INFO").Args(name).Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		if isUnknownIndex(err) {
			return nil, db.ErrIndexNotFound
		}
		return nil, &db.Error{Op: db.OpIndexInfo, Err: err}
	}
	return parseIndexInfo(raw)
}

func isUnknownIndex(err error) bool {
	return isRedisErr(err, "unknown index name") || isRedisErr(err, "no such index")
}

// parseIndexInfo reads the RESP2 key/value array returned by FT.INFO.
func parseIndexInfo(raw []rueidis.RedisMessage) (*db.IndexInfo, error) {
	info := &db.IndexInfo{}
	for i := 0; i+1 < len(raw); i += 2 {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}
		val := raw[i+1]
		switch key {
		case "index_name":
			info.Name, _ = val.ToString()
		case "num_docs":
			n, err := val.AsInt64()
			if err != nil {
				f, ferr := val.AsFloat64()
				if ferr != nil {
					return nil, fmt.Errorf("parse num_docs: %w", err)
				}
				n = int64(f)
			}
			info.NumDocs = n
		case "indexing":
			n, err := val.AsInt64()
			info.Indexing = err == nil && n != 0
		case "attributes":
			attrs, err := val.ToArray()
			if err != nil {
				return nil, fmt.Errorf("parse attributes: %w", err)
			}
			for _, a := range attrs {
				if name := attributeName(a); name != "" {
					info.Attributes = append(info.Attributes, name)
				}
			}
		}
	}
	return info, nil
}

// attributeName extracts the attribute (alias) name of one FT.INFO attribute entry.
func attributeName(m rueidis.RedisMessage) string {
	parts, err := m.ToArray()
	if err != nil {
		return ""
	}
	var identifier string
	for j := 0; j+1 < len(parts); j++ {
		k, err := parts[j].ToString()
		if err != nil {
			continue
		}
		switch k {
		case "attribute":
			if v, err := parts[j+1].ToString(); err == nil {
				return v
			}
		case "identifier":
			identifier, _ = parts[j+1].ToString()
		}
	}
	return identifier
}

func buildCreateArgs(idx *db.IndexDefinition) ([]string, error) {
	if idx.Name == "" {
		return nil, errors.New("index name is required")
	}
	if len(idx.Fields) == 0 {
		return nil, errors.New("at least one field is required")
	}

	args := []string{idx.Name}

	storage := idx.StorageType
	if storage == "" {
		storage = db.StorageHash
	}
	args = append(args, "ON", string(storage))

	if len(idx.Prefixes) > 0 {
		args = append(args, "PREFIX", strconv.Itoa(len(idx.Prefixes)))
		args = append(args, idx.Prefixes...)
	}

	if idx.NoStopwords {
		args = append(args, "STOPWORDS", "0")
	}

	args = append(args, "SCHEMA")

	for i := range idx.Fields {
		fieldArgs, err := buildFieldArgs(&idx.Fields[i])
		if err != nil {
			return nil, err
		}
		args = append(args, fieldArgs...)
	}

	return args, nil
}

func buildFieldArgs(f *db.IndexField) ([]string, error) {
	if f.Name == "" {
		return nil, errors.New("field name is required")
	}

	args := []string{f.Name}

	switch f.Type {
	case db.IndexFieldNumeric:
		args = append(args, "NUMERIC")

	case db.IndexFieldGeo:
		args = append(args, "GEO")

	case db.IndexFieldText:
		args = append(args, "TEXT")
		if f.TextNoStem {
			args = append(args, "NOSTEM")
		}
		if f.TextWeight > 0 {
			args = append(args, "WEIGHT", strconv.FormatFloat(f.TextWeight, 'f', -1, 64))
		}

	case db.IndexFieldTag:
		args = append(args, "TAG")
		if f.TagSeparator != "" {
			args = append(args, "SEPARATOR", f.TagSeparator)
		}
		if f.TagCaseSensitive {
			args = append(args, "CASESENSITIVE")
		}

	default:
		return nil, errors.New("unknown field type")
	}

	if f.Sortable {
		args = append(args, "SORTABLE")
	}

	return args, nil
}
