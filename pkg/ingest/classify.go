package ingest

import (
	"fmt"

	"github.com/coregx/ahocorasick"

	"github.com/memoria-db/memoria/pkg/storage"
)

// Keyword dictionaries for entity-type inference. A segment containing any
// person keyword is a person; otherwise place, then time; everything else
// is Other and gets dropped by extraction. Chinese needs no case folding,
// so the raw characters are matched directly.
var (
	personKeywords = []string{
		"我", "你", "他", "她", "哥", "姐", "弟", "妹",
		"爸", "妈", "老师", "朋友", "同学",
	}
	placeKeywords = []string{
		"家", "学校", "公司", "商店", "餐厅", "公园",
		"医院", "车站", "机场",
	}
	timeKeywords = []string{
		"今天", "昨天", "明天", "上午", "下午", "晚上",
		"周一", "周末", "月", "年",
	}
)

// typeClassifier matches all keyword dictionaries in one Aho-Corasick pass
// and reports the highest-priority entity type whose keywords occur.
type typeClassifier struct {
	automaton *ahocorasick.Automaton
	// typeOf maps pattern index to the entity type of that keyword.
	typeOf []storage.EntityType
}

// defaultClassifier is built once from the static dictionaries.
var defaultClassifier = mustClassifier()

func mustClassifier() *typeClassifier {
	c, err := newTypeClassifier()
	if err != nil {
		panic(fmt.Sprintf("ingest: build keyword classifier: %v", err))
	}
	return c
}

func newTypeClassifier() (*typeClassifier, error) {
	var patterns []string
	var typeOf []storage.EntityType

	add := func(keywords []string, entityType storage.EntityType) {
		for _, kw := range keywords {
			patterns = append(patterns, kw)
			typeOf = append(typeOf, entityType)
		}
	}
	add(personKeywords, storage.EntityPerson)
	add(placeKeywords, storage.EntityPlace)
	add(timeKeywords, storage.EntityTime)

	automaton, err := ahocorasick.NewBuilder().
		AddStrings(patterns).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		return nil, err
	}
	return &typeClassifier{automaton: automaton, typeOf: typeOf}, nil
}

// typePriority orders classification when a segment matches several
// dictionaries: person beats place beats time.
var typePriority = map[storage.EntityType]int{
	storage.EntityPerson: 3,
	storage.EntityPlace:  2,
	storage.EntityTime:   1,
}

// classify reports the entity type of one text segment.
func (c *typeClassifier) classify(segment string) storage.EntityType {
	best := storage.EntityOther
	bestPriority := 0

	for _, m := range c.automaton.FindAllOverlapping([]byte(segment)) {
		entityType := c.typeOf[m.PatternID]
		if p := typePriority[entityType]; p > bestPriority {
			bestPriority = p
			best = entityType
		}
	}
	return best
}

// InferEntityType classifies a text segment by keyword lookup: person,
// place or time when a known keyword occurs, Other otherwise.
//
// Example:
//
//	ingest.InferEntityType("我的朋友张三") // EntityPerson
//	ingest.InferEntityType("北京的公园")   // EntityPlace
//	ingest.InferEntityType("今天下午")     // EntityTime
//	ingest.InferEntityType("一本书")       // EntityOther
func InferEntityType(segment string) storage.EntityType {
	return defaultClassifier.classify(segment)
}
