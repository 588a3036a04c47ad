package entity

import (
	"fmt"
	"sort"
	"strings"

	"github.com/orgware/owconnect/internal/server/models"
)

func search(recs []*models.Record, term string, fields []string) []*models.Record {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" || len(fields) == 0 {
		return recs
	}

	out := recs[:0]
	for _, rec := range recs {
		for _, f := range fields {
			if strings.Contains(strings.ToLower(fieldString(rec, f)), term) {
				out = append(out, rec)
				break
			}
		}
	}
	return out
}

type sortKey struct {
	field string
	desc  bool
}

func parseSort(s string) []sortKey {
	var keys []sortKey
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
		k := sortKey{field: f}
		if strings.HasPrefix(f, "-") {
			k = sortKey{field: f[1:], desc: true}
		}
		if k.field != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// sortRecords orders recs by the sort expression. Records arrive sorted by
// code, which remains the tie breaker.
func sortRecords(recs []*models.Record, expr string) {
	keys := parseSort(expr)
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(recs, func(i, j int) bool {
		for _, k := range keys {
			a, b := fieldString(recs[i], k.field), fieldString(recs[j], k.field)
			if a == b {
				continue
			}
			if k.desc {
				return a > b
			}
			return a < b
		}
		return false
	})
}

func fieldString(rec *models.Record, field string) string {
	switch field {
	case "code":
		return rec.Code
	case "_id":
		return rec.ID
	case "revision":
		return fmt.Sprintf("%012d", rec.Revision)
	case "createdAt":
		return rec.CreatedAt.UTC().Format("2006-01-02T15:04:05.000000000")
	}
	v, ok := rec.Data[field]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
