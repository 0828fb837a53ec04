package batchedit

import (
	"strings"
)

// ActionKind is the canonical kind of an Action.
type ActionKind string

const (
	KindPointAdd          ActionKind = "point.add"
	KindPointDelete       ActionKind = "point.delete"
	KindPointRename       ActionKind = "point.rename"
	KindPointUpdate       ActionKind = "point.update"
	KindSpeciesAdd        ActionKind = "species.add"
	KindSpeciesDelete     ActionKind = "species.delete"
	KindSpeciesRename     ActionKind = "species.rename"
	KindCountSet          ActionKind = "count.set"
	KindCountDelta        ActionKind = "count.delta"
	KindCountClear        ActionKind = "count.clear"
	KindWetWeightSet      ActionKind = "wetweight.set"
	KindWetWeightAutofill ActionKind = "wetweight.autofill"
	KindTaxonomyAutofill  ActionKind = "taxonomy.autofill"
)

// IsKnown reports whether k is one of the canonical kinds.
func (k ActionKind) IsKnown() bool {
	switch k {
	case KindPointAdd, KindPointDelete, KindPointRename, KindPointUpdate,
		KindSpeciesAdd, KindSpeciesDelete, KindSpeciesRename,
		KindCountSet, KindCountDelta, KindCountClear,
		KindWetWeightSet, KindWetWeightAutofill, KindTaxonomyAutofill:
		return true
	default:
		return false
	}
}

func (k ActionKind) String() string { return string(k) }

// Action is one requested edit with raw, unresolved name tokens. Type holds
// the kind as supplied; NormalizeKind maps it to an ActionKind. Which fields
// are meaningful depends on the kind.
type Action struct {
	Type      string   `json:"type"`
	Point     string   `json:"point,omitempty"`
	Species   string   `json:"species,omitempty"`
	From      string   `json:"from,omitempty"`
	To        string   `json:"to,omitempty"`
	Value     *float64 `json:"value,omitempty"`
	Delta     *float64 `json:"delta,omitempty"`
	Vc        *float64 `json:"vc,omitempty"`
	Vo        *float64 `json:"vo,omitempty"`
	Source    string   `json:"source,omitempty"`
	WriteToDb *bool    `json:"writeToDb,omitempty"`
	Note      string   `json:"note,omitempty"`
}

// Kind returns the normalized kind of a.
func (a Action) Kind() ActionKind {
	return NormalizeKind(a.Type)
}

func (a Action) hasPayload() bool {
	return strings.TrimSpace(a.Point) != "" ||
		strings.TrimSpace(a.Species) != "" ||
		strings.TrimSpace(a.From) != "" ||
		strings.TrimSpace(a.To) != "" ||
		a.Value != nil || a.Delta != nil || a.Vc != nil || a.Vo != nil ||
		strings.TrimSpace(a.Source) != "" ||
		a.WriteToDb != nil ||
		strings.TrimSpace(a.Note) != ""
}

var kindAliases = map[string]ActionKind{
	"point.add":          KindPointAdd,
	"point.create":       KindPointAdd,
	"add.point":          KindPointAdd,
	"addpoint":           KindPointAdd,
	"point.delete":       KindPointDelete,
	"point.remove":       KindPointDelete,
	"point.del":          KindPointDelete,
	"point.rm":           KindPointDelete,
	"point.rename":       KindPointRename,
	"point.ren":          KindPointRename,
	"rename.point":       KindPointRename,
	"point.update":       KindPointUpdate,
	"point.set":          KindPointUpdate,
	"point.edit":         KindPointUpdate,
	"point.volume":       KindPointUpdate,
	"species.add":        KindSpeciesAdd,
	"species.create":     KindSpeciesAdd,
	"add.species":        KindSpeciesAdd,
	"addspecies":         KindSpeciesAdd,
	"species.delete":     KindSpeciesDelete,
	"species.remove":     KindSpeciesDelete,
	"species.del":        KindSpeciesDelete,
	"species.rm":         KindSpeciesDelete,
	"species.rename":     KindSpeciesRename,
	"species.ren":        KindSpeciesRename,
	"rename.species":     KindSpeciesRename,
	"count.set":          KindCountSet,
	"count.assign":       KindCountSet,
	"count.update":       KindCountSet,
	"count.edit":         KindCountSet,
	"count.delta":        KindCountDelta,
	"count.change":       KindCountDelta,
	"count.add":          KindCountDelta,
	"count.sub":          KindCountDelta,
	"count.clear":        KindCountClear,
	"wetweight.set":      KindWetWeightSet,
	"wetweight.update":   KindWetWeightSet,
	"wetweight.edit":     KindWetWeightSet,
	"wetweight.autofill": KindWetWeightAutofill,
	"wetweight.fill":     KindWetWeightAutofill,
	"wetweight.auto":     KindWetWeightAutofill,
	"taxonomy.autofill":  KindTaxonomyAutofill,
	"taxonomy.fill":      KindTaxonomyAutofill,
	"taxonomy.auto":      KindTaxonomyAutofill,
}

var kindSeparators = strings.NewReplacer("_", ".", "-", ".", " ", "")

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// NormalizeKind maps synonym spellings of an action kind to the canonical
// kind. Strings that match no table entry fall back to Chinese keyword
// heuristics; when those fail too the cleaned string is returned unchanged
// and IsKnown reports false.
func NormalizeKind(raw string) ActionKind {
	cleaned := strings.ToLower(strings.TrimSpace(raw))
	if cleaned == "" {
		return ""
	}
	text := kindSeparators.Replace(cleaned)
	if k, ok := kindAliases[text]; ok {
		return k
	}

	if containsAny(text, "点位", "采样点") {
		switch {
		case containsAny(text, "新增", "添加", "创建"):
			return KindPointAdd
		case containsAny(text, "删除", "移除", "去掉"):
			return KindPointDelete
		case containsAny(text, "改名", "重命名"):
			return KindPointRename
		case containsAny(text, "更新", "修改", "参数", "vc", "vo"):
			return KindPointUpdate
		}
	}
	if strings.Contains(text, "物种") {
		switch {
		case containsAny(text, "新增", "添加", "创建"):
			return KindSpeciesAdd
		case containsAny(text, "删除", "移除", "去掉"):
			return KindSpeciesDelete
		case containsAny(text, "改名", "重命名"):
			return KindSpeciesRename
		}
	}
	if containsAny(text, "计数", "数量", "个数") {
		switch {
		case containsAny(text, "增加", "减少", "增减", "变化"):
			return KindCountDelta
		case containsAny(text, "修改", "设置", "改为", "设为"):
			return KindCountSet
		}
	}
	if strings.Contains(text, "湿重") {
		if containsAny(text, "补齐", "自动") {
			return KindWetWeightAutofill
		}
		return KindWetWeightSet
	}
	if strings.Contains(text, "分类") && containsAny(text, "补齐", "自动") {
		return KindTaxonomyAutofill
	}
	return ActionKind(text)
}

// FillSource selects where an autofill edit takes its value from.
type FillSource string

const (
	FillLocal FillSource = "local"
	FillAPI   FillSource = "api"
)

// Label is the preview label of the source.
func (s FillSource) Label() string {
	if s == FillLocal {
		return "本机"
	}
	return "AI"
}

// ParseFillSource reads a free-form source hint. False when it names neither
// the local library nor the assistant.
func ParseFillSource(raw string) (FillSource, bool) {
	text := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case text == "":
		return "", false
	case containsAny(text, "local", "本地", "本机", "库"):
		return FillLocal, true
	case containsAny(text, "api", "ai", "接口"):
		return FillAPI, true
	default:
		return "", false
	}
}
