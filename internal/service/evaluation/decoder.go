package evaluation

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	model "github.com/zhouzirui/ise-evaluator/internal/model/evaluation"
)

const (
	attrTotalScore = "total_score"
	attrRejected   = "is_rejected"
	attrException  = "except_info"
)

// 评测单元元素，其属性会被收集
var evaluationUnits = map[string]bool{
	"read_word":     true,
	"read_sentence": true,
	"read_chapter":  true,
}

// Decode 解析评测结果 XML。深度优先遍历 read_word/read_sentence/read_chapter
// 元素并收集全部属性，同名属性按文档顺序后者覆盖前者。
func Decode(markup string) (*model.Result, error) {
	if strings.TrimSpace(markup) == "" {
		return nil, malformed("Decode", "empty result markup", nil, markup)
	}

	decoder := xml.NewDecoder(strings.NewReader(markup))
	decoder.CharsetReader = utf8CharsetReader

	var (
		rootSeen   bool
		rootClosed bool
		depth      int
		rootTotal  string
		hasRoot    bool
		attrs      = make(map[string]string)
		attrsOrder []string
	)

	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, malformed("Decode", "invalid result markup", err, markup)
		}

		var start xml.StartElement
		switch t := tok.(type) {
		case xml.CharData:
			// 根元素之外只允许空白
			if depth == 0 && len(bytes.TrimSpace(t)) > 0 {
				return nil, malformed("Decode", "text outside the root element", nil, markup)
			}
			continue
		case xml.EndElement:
			depth--
			if depth == 0 {
				rootClosed = true
			}
			continue
		case xml.StartElement:
			if rootClosed {
				return nil, malformed("Decode", "more than one root element", nil, markup)
			}
			depth++
			start = t
		default:
			continue
		}

		if !rootSeen {
			rootSeen = true
			rootTotal, hasRoot = attrValue(start, attrTotalScore)
		}

		if !evaluationUnits[start.Name.Local] {
			continue
		}
		for _, attr := range start.Attr {
			if _, exists := attrs[attr.Name.Local]; !exists {
				attrsOrder = append(attrsOrder, attr.Name.Local)
			}
			attrs[attr.Name.Local] = attr.Value
		}
	}

	if !rootSeen {
		return nil, malformed("Decode", "result markup has no root element", nil, markup)
	}

	result := &model.Result{
		Dimensions: make(map[string]float64),
		Fields:     make(map[string]string),
		RawMarkup:  markup,
		CreatedAt:  time.Now(),
	}

	// 根节点总分优先，无法解析时退回评测单元的总分；
	// 两者都存在时单元总分按原字段名保留在维度中
	unitTotal, hasUnitTotal := attrs[attrTotalScore]
	delete(attrs, attrTotalScore)
	if hasRoot {
		result.TotalScore, result.HasTotalScore = parseScore(rootTotal)
	}
	if hasUnitTotal {
		if unit, ok := parseScore(unitTotal); ok {
			if result.HasTotalScore {
				result.Dimensions[attrTotalScore] = unit
			} else {
				result.TotalScore, result.HasTotalScore = unit, true
			}
		}
	}

	if raw, ok := attrs[attrRejected]; ok {
		result.RejectedMarked = true
		result.Rejected = raw == "true"
		delete(attrs, attrRejected)
	}

	if code, ok := attrs[attrException]; ok {
		result.Exception = model.LookupException(code)
		delete(attrs, attrException)
	}

	for _, name := range attrsOrder {
		value, ok := attrs[name]
		if !ok {
			continue
		}
		key := name
		if label, renamed := model.DimensionLabels[name]; renamed {
			key = label
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			result.Dimensions[key] = f
		} else {
			result.Fields[key] = value
		}
	}

	return result, nil
}

func attrValue(el xml.StartElement, name string) (string, bool) {
	for _, attr := range el.Attr {
		if attr.Name.Local == name {
			return attr.Value, true
		}
	}
	return "", false
}

func parseScore(raw string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// utf8CharsetReader 接受 utf8/utf-8 声明，服务端请求时指定了 rstcd=utf8
func utf8CharsetReader(charset string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(strings.ReplaceAll(charset, "-", "")) {
	case "utf8":
		return input, nil
	default:
		return nil, fmt.Errorf("unsupported result charset %q", charset)
	}
}

func malformed(op, message string, cause error, raw string) *Error {
	e := newError(KindMalformedPayload, op, message, cause)
	e.Raw = raw
	return e
}
