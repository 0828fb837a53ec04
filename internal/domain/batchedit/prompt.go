package batchedit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/turtacn/plankton-batchedit/internal/domain/dataset"
	"github.com/turtacn/plankton-batchedit/internal/domain/reference"
)

// Preview caps applied to the namespaces embedded in the bulk prompt.
const (
	promptPointLimit   = 160
	promptSpeciesLimit = 180
	promptAliasLimit   = 80
)

// Token budgets for assistant calls.
const (
	BulkParseMaxTokens   = 1400
	SpeciesInfoMaxTokens = 650
)

// SpeciesMarker prefixes the final line of a species-info reply.
const SpeciesMarker = "FINAL_SPECIES_JSON"

const bulkGeneralHint = `可用动作类型与字段：
- point.add {point, vc?, vo?}
- point.delete {point}
- point.rename {from, to}
- point.update {point, vc?, vo?}
- species.add {species}
- species.delete {species}
- species.rename {from, to}
- count.set {point, species, value}
- count.delta {point, species, delta}
- wetweight.set {species, value, writeToDb?}
- wetweight.autofill {species, source("local"/"api"), writeToDb?}
- taxonomy.autofill {species, source("local"/"api"), writeToDb?}
说明：point=点位名称；species=物种中文名；“当前点”用 point="当前点"。`

const bulkCountsHint = `仅解析计数相关动作：
- count.set {point, species, value}
- count.delta {point, species, delta}
- species.add / species.delete（仅当明确说明新增/删除物种）
其他内容放入 unparsed。`

const bulkTemplate = `你是“浮游动物一体化”应用的批量录入解析助手。
目标：把用户的自然语言指令转换成结构化操作清单。

当前点：{{default "（无）" .ActivePoint}}
采样点清单（前 {{len .Points}}/{{.PointTotal}}）：{{listOrNone .Points}}
物种清单（前 {{len .Species}}/{{.SpeciesTotal}}）：{{listOrNone .Species}}
别名映射（部分）：
{{if .Aliases}}{{range $i, $a := .Aliases}}{{if $i}}
{{end}}- {{$a.Alias}} -> {{$a.Canonical}}{{end}}{{else}}（无）{{end}}

解析模板：{{.TemplateLabel}}
{{.Hint}}

输出要求（必须满足）：
1) 仅输出 JSON，不要解释。
2) 最后一行严格输出：FINAL_BULK_JSON: <JSON>
3) JSON 格式：{"actions":[{"type":"point.add","point":"1-0.3","vc":57,"vo":20}],"unparsed":[...],"notes":[...],"warnings":[...]}
4) actions 必须是数组；每条动作必须包含 "type" 字段，并在同一层给出 point/species/value 等字段。
5) 不要输出 {"point.add":{...}} 或 {"action":"point.add"} 之类的变体。
6) 数字必须是阿拉伯数字；point/species 必须是清单中的名称或用户明确的新名称。
7) 无法确定的指令放入 unparsed 原文。

用户指令：
{{trimSpace .Input}}`

const taxonomyFields = `分类字段（对应分类库 A-E）：
- lvl1：四大类之一（必须从：原生动物 / 轮虫类 / 枝角类 / 桡足类 中选择；不确定请留空）
- lvl2：纲（可空）
- lvl3：目（可空）
- lvl4：科（可空）
- lvl5：属（可空）`

const speciesInfoTemplate = `请为以下浮游动物补齐“分类（内置分类库）”与“平均湿重（mg/个）”。

物种中文名：{{.NameCn}}
拉丁名：{{default "（未提供）" .Latin}}

` + taxonomyFields + `

平均湿重：wetWeightMg（单位 mg/个；不确定请留空）

输出要求（必须满足）：
1) 只要最终结构化结果即可，不要输出多余解释。
2) 最后一行严格输出（只输出一行，不要代码块）：
   FINAL_SPECIES_JSON: <{"nameLatin":"...","wetWeightMg":0.0005,"lvl1":"...","lvl2":"...","lvl3":"...","lvl4":"...","lvl5":"..."} 或 UNKNOWN>`

const taxonomyInfoTemplate = `请为以下浮游动物补齐“分类（内置分类库）”。

物种中文名：{{.NameCn}}
拉丁名：{{default "（未提供）" .Latin}}

` + taxonomyFields + `

输出要求（必须满足）：
1) 只要最终结构化结果即可，不要输出多余解释。
2) 最后一行严格输出（只输出一行，不要代码块）：
   FINAL_SPECIES_JSON: <{"nameLatin":"...","wetWeightMg":null,"lvl1":"...","lvl2":"...","lvl3":"...","lvl4":"...","lvl5":"..."} 或 UNKNOWN>`

const wetWeightInfoTemplate = `请为以下浮游动物补齐“平均湿重（mg/个）”。

物种中文名：{{.NameCn}}
拉丁名：{{default "（未提供）" .Latin}}

输出要求（必须满足）：
1) 只要最终结构化结果即可，不要输出多余解释。
2) wetWeightMg 只输出正数或 null（不确定就留空）。
3) 最后一行严格输出（只输出一行，不要代码块）：
   FINAL_SPECIES_JSON: <{"nameLatin":"...","wetWeightMg":0.0005,"lvl1":null,"lvl2":null,"lvl3":null,"lvl4":null,"lvl5":null} 或 UNKNOWN>`

var promptFuncs = template.FuncMap{
	"trimSpace": strings.TrimSpace,
	"default": func(def, v string) string {
		if strings.TrimSpace(v) == "" {
			return def
		}
		return strings.TrimSpace(v)
	},
	"listOrNone": func(items []string) string {
		if len(items) == 0 {
			return "（无）"
		}
		return strings.Join(items, "、")
	},
}

var (
	bulkPrompt      = template.Must(template.New("bulk").Funcs(promptFuncs).Parse(bulkTemplate))
	speciesPrompt   = template.Must(template.New("species").Funcs(promptFuncs).Parse(speciesInfoTemplate))
	taxonomyPrompt  = template.Must(template.New("taxonomy").Funcs(promptFuncs).Parse(taxonomyInfoTemplate))
	wetWeightPrompt = template.Must(template.New("wetweight").Funcs(promptFuncs).Parse(wetWeightInfoTemplate))
)

// BulkPromptInput is the context embedded in a bulk-parse prompt.
type BulkPromptInput struct {
	Template    Template
	Input       string
	ActivePoint string
	Points      []string
	Species     []string
	Aliases     map[string]string
}

// BuildBulkPrompt renders the prompt asking the assistant for an action list.
// Namespace listings are truncated; aliases are listed in sorted order.
func BuildBulkPrompt(in BulkPromptInput) (string, error) {
	keys := make([]string, 0, len(in.Aliases))
	for k := range in.Aliases {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > promptAliasLimit {
		keys = keys[:promptAliasLimit]
	}
	aliases := make([]reference.Alias, 0, len(keys))
	for _, k := range keys {
		aliases = append(aliases, reference.Alias{Alias: k, Canonical: in.Aliases[k]})
	}

	hint := bulkGeneralHint
	if in.Template == TemplateCounts {
		hint = bulkCountsHint
	}
	data := struct {
		ActivePoint   string
		Points        []string
		PointTotal    int
		Species       []string
		SpeciesTotal  int
		Aliases       []reference.Alias
		TemplateLabel string
		Hint          string
		Input         string
	}{
		ActivePoint:   in.ActivePoint,
		Points:        in.Points[:min(len(in.Points), promptPointLimit)],
		PointTotal:    len(in.Points),
		Species:       in.Species[:min(len(in.Species), promptSpeciesLimit)],
		SpeciesTotal:  len(in.Species),
		Aliases:       aliases,
		TemplateLabel: in.Template.Label(),
		Hint:          hint,
		Input:         in.Input,
	}
	return render(bulkPrompt, data)
}

// SpeciesPromptKind selects which species fields a prompt asks for.
type SpeciesPromptKind int

const (
	SpeciesPromptFull SpeciesPromptKind = iota
	SpeciesPromptTaxonomy
	SpeciesPromptWetWeight
)

// BuildSpeciesInfoPrompt renders a species-info prompt for nameCn.
func BuildSpeciesInfoPrompt(kind SpeciesPromptKind, nameCn, latin string) (string, error) {
	data := struct{ NameCn, Latin string }{NameCn: nameCn, Latin: latin}
	switch kind {
	case SpeciesPromptTaxonomy:
		return render(taxonomyPrompt, data)
	case SpeciesPromptWetWeight:
		return render(wetWeightPrompt, data)
	default:
		return render(speciesPrompt, data)
	}
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

// ExtractSpeciesJSON returns the payload of the last FINAL_SPECIES_JSON line.
// False when the line is missing, empty or UNKNOWN.
func ExtractSpeciesJSON(text string) (string, bool) {
	var line string
	found := false
	prefix := strings.ToLower(SpeciesMarker + ":")
	for _, l := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(l)), prefix) {
			line, found = l, true
		}
	}
	if !found {
		return "", false
	}
	_, raw, _ := strings.Cut(line, ":")
	raw = strings.TrimSpace(raw)
	if strings.EqualFold(raw, "UNKNOWN") {
		return "", false
	}
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSpace(strings.TrimSuffix(raw, "```"))
	return raw, raw != ""
}

type speciesInfoDoc struct {
	NameLatin   *string  `json:"nameLatin"`
	WetWeightMg *float64 `json:"wetWeightMg"`
	Lvl1        *string  `json:"lvl1"`
	Lvl2        *string  `json:"lvl2"`
	Lvl3        *string  `json:"lvl3"`
	Lvl4        *string  `json:"lvl4"`
	Lvl5        *string  `json:"lvl5"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

// ParseSpeciesInfo decodes a species-info payload with the level-1 group
// normalized. False when doc is not a JSON object of that shape.
func ParseSpeciesInfo(doc string) (*reference.SpeciesInfo, bool) {
	if !strings.HasPrefix(strings.TrimSpace(doc), "{") {
		return nil, false
	}
	var d speciesInfoDoc
	if err := json.Unmarshal([]byte(doc), &d); err != nil {
		return nil, false
	}
	return &reference.SpeciesInfo{
		NameLatin:   deref(d.NameLatin),
		WetWeightMg: d.WetWeightMg,
		Taxonomy: dataset.Taxonomy{
			Lvl1: dataset.NormalizeLvl1(deref(d.Lvl1)),
			Lvl2: deref(d.Lvl2),
			Lvl3: deref(d.Lvl3),
			Lvl4: deref(d.Lvl4),
			Lvl5: deref(d.Lvl5),
		},
	}, true
}

// SpeciesInfoFromReply extracts and decodes the species-info line of an
// assistant reply.
func SpeciesInfoFromReply(reply string) (*reference.SpeciesInfo, bool) {
	doc, ok := ExtractSpeciesJSON(reply)
	if !ok {
		return nil, false
	}
	return ParseSpeciesInfo(doc)
}
