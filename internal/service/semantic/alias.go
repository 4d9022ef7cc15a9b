package semantic

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"smartbi/internal/domain"
)

// normalize trims, applies NFKC and case-folds a string for alias lookup.
func normalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return cases.Fold().String(norm.NFKC.String(s))
}

// aliasTarget is one catalog object reachable through an alias.
type aliasTarget struct {
	objectType    domain.ObjectType
	canonicalName string
	dataset       string
	entity        string
}

// Document is one retrievable catalog object for approximate matching.
type Document struct {
	CanonicalName string
	ObjectType    domain.ObjectType
	Dataset       string
	Entity        string
	Text          string
}

// AliasIndex maps normalized names and synonyms to catalog objects. It is
// built once per catalog and is read-only afterwards.
type AliasIndex struct {
	targets map[string][]aliasTarget
	corpus  []Document
}

// NewAliasIndex indexes every field, sensitive field, time dimension, metric
// and dimension of the catalog by its name and synonyms.
func NewAliasIndex(cat *domain.Catalog) *AliasIndex {
	idx := &AliasIndex{targets: make(map[string][]aliasTarget)}

	for _, e := range cat.Entities() {
		for _, f := range e.Fields {
			t := aliasTarget{objectType: domain.ObjectField, canonicalName: domain.CanonicalName(e.Name, f.Name), entity: e.Name}
			idx.add(t, f.Name, f.Synonyms)
			idx.addDocument(t, f.Name, f.Synonyms, f.Description, e.Description)
		}
		for _, f := range e.SensitiveFields {
			t := aliasTarget{objectType: domain.ObjectSensitiveField, canonicalName: domain.CanonicalName(e.Name, f.Name), entity: e.Name}
			idx.add(t, f.Name, f.Synonyms)
		}
	}

	for _, ds := range cat.Datasets() {
		timeDims := make(map[string]bool, len(ds.TimeDimensions))
		for _, td := range ds.TimeDimensions {
			t := aliasTarget{objectType: domain.ObjectTimeDimension, canonicalName: domain.CanonicalName(ds.Name, td.Name), dataset: ds.Name}
			timeDims[t.canonicalName] = true
			idx.add(t, td.Name, td.Synonyms)
			idx.addDocument(t, td.Name, td.Synonyms, td.Description, ds.Description)
		}
		for _, m := range ds.Metrics {
			t := aliasTarget{objectType: domain.ObjectMetric, canonicalName: domain.CanonicalName(ds.Name, m.Name), dataset: ds.Name}
			idx.add(t, m.Name, m.Synonyms)
			idx.addDocument(t, m.Name, m.Synonyms, m.Description, ds.Description)
		}
		for _, d := range ds.Dimensions {
			cn := domain.CanonicalName(ds.Name, d.Name)
			typ := domain.ObjectDimension
			if timeDims[cn] {
				// Same column declared twice: keep one object, but let the
				// dimension's synonyms reach it too.
				typ = domain.ObjectTimeDimension
			}
			t := aliasTarget{objectType: typ, canonicalName: cn, dataset: ds.Name}
			idx.add(t, d.Name, d.Synonyms)
			if !timeDims[cn] {
				idx.addDocument(t, d.Name, d.Synonyms, d.Description, ds.Description)
			}
		}
	}
	return idx
}

func (idx *AliasIndex) add(t aliasTarget, name string, synonyms []string) {
	aliases := append([]string{name}, synonyms...)
	for _, a := range aliases {
		key := normalize(a)
		if key == "" {
			continue
		}
		dup := false
		for _, existing := range idx.targets[key] {
			if existing.canonicalName == t.canonicalName {
				dup = true
				break
			}
		}
		if !dup {
			idx.targets[key] = append(idx.targets[key], t)
		}
	}
}

func (idx *AliasIndex) addDocument(t aliasTarget, name string, synonyms []string, descriptions ...string) {
	parts := []string{t.canonicalName, name}
	parts = append(parts, synonyms...)
	for _, d := range descriptions {
		if strings.TrimSpace(d) != "" {
			parts = append(parts, d)
		}
	}
	idx.corpus = append(idx.corpus, Document{
		CanonicalName: t.canonicalName,
		ObjectType:    t.objectType,
		Dataset:       t.dataset,
		Entity:        t.entity,
		Text:          strings.Join(parts, " | "),
	})
}

// lookup returns every object an alias resolves to, in catalog order.
func (idx *AliasIndex) lookup(alias string) []aliasTarget {
	return idx.targets[normalize(alias)]
}

// Corpus returns the retrievable documents. Sensitive fields are never
// part of the corpus.
func (idx *AliasIndex) Corpus() []Document {
	return idx.corpus
}

// ResolveField resolves a filter or dimension alias to a canonical
// dimension-like name. Among several targets it prefers the primary
// dataset's own objects, then fields of entities the dataset joins, then
// catalog order.
func (idx *AliasIndex) ResolveField(alias string, cat *domain.Catalog, primary string) (string, bool) {
	var best aliasTarget
	bestRank := -1
	for _, t := range idx.lookup(alias) {
		if !t.objectType.IsDimensionLike() {
			continue
		}
		rank := 0
		switch {
		case primary != "" && t.dataset == primary:
			rank = 2
		case primary != "" && t.entity != "" && cat.JoinsEntity(primary, t.entity):
			rank = 1
		}
		if rank > bestRank {
			best, bestRank = t, rank
		}
	}
	if bestRank < 0 {
		return "", false
	}
	return best.canonicalName, true
}
