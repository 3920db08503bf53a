package evaluation

import (
	"fmt"
	"strings"
)

// Category 评测题型
type Category string

const (
	CategoryWord     Category = "word"
	CategorySentence Category = "sentence"
	CategoryChapter  Category = "chapter"
)

// WireName 返回协议中的 category 取值
func (c Category) WireName() string {
	switch c {
	case CategoryWord:
		return "read_word"
	case CategorySentence:
		return "read_sentence"
	case CategoryChapter:
		return "read_chapter"
	default:
		return ""
	}
}

// Language 评测语种
type Language string

const (
	LanguageEnglish Language = "en"
	LanguageChinese Language = "cn"
)

// Profile 返回协议中的 ent 取值
func (l Language) Profile() string {
	switch l {
	case LanguageEnglish:
		return "en_vip"
	case LanguageChinese:
		return "cn_vip"
	default:
		return ""
	}
}

// Kind 评测类型 = 语种 × 题型
type Kind struct {
	Language Language `json:"language"`
	Category Category `json:"category"`
}

var (
	categories = []Category{CategoryWord, CategorySentence, CategoryChapter}
	languages  = []Language{LanguageEnglish, LanguageChinese}

	defaultTexts = map[Kind]string{
		{LanguageEnglish, CategoryWord}:     "hello",
		{LanguageEnglish, CategorySentence}: "nice to meet you.",
		{LanguageEnglish, CategoryChapter}:  "This is a test for English chapter reading.",
		{LanguageChinese, CategoryWord}:     "你好",
		{LanguageChinese, CategorySentence}: "很高兴认识你。",
		{LanguageChinese, CategoryChapter}:  "这是中文朗读测试。",
	}
)

// ParseKind 解析形如 en_sentence 的评测类型
func ParseKind(raw string) (Kind, error) {
	lang, cat, ok := strings.Cut(strings.ToLower(strings.TrimSpace(raw)), "_")
	if !ok {
		return Kind{}, fmt.Errorf("invalid evaluation kind %q, expected <language>_<category>", raw)
	}
	kind := Kind{Language: Language(lang), Category: Category(cat)}
	if !kind.Valid() {
		return Kind{}, fmt.Errorf("unsupported evaluation kind %q", raw)
	}
	return kind, nil
}

// AllKinds 返回所有支持的评测类型
func AllKinds() []Kind {
	kinds := make([]Kind, 0, len(categories)*len(languages))
	for _, lang := range languages {
		for _, cat := range categories {
			kinds = append(kinds, Kind{Language: lang, Category: cat})
		}
	}
	return kinds
}

// Valid 判断语种与题型是否都受支持
func (k Kind) Valid() bool {
	return k.Category.WireName() != "" && k.Language.Profile() != ""
}

func (k Kind) String() string {
	return string(k.Language) + "_" + string(k.Category)
}

// DefaultText 未提供评测文本时使用的默认文本
func (k Kind) DefaultText() string {
	return defaultTexts[k]
}
