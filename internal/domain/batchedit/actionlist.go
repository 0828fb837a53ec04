package batchedit

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// ActionList is a structured instruction set produced by an assistant.
type ActionList struct {
	Actions  []Action `json:"actions"`
	Unparsed []string `json:"unparsed"`
	Notes    []string `json:"notes"`
	Warnings []string `json:"warnings"`
}

// Quality scores how much usable content the list carries. It is used to
// pick between competing decodes of the same reply.
func (l *ActionList) Quality() int {
	score := 0
	for _, a := range l.Actions {
		if strings.TrimSpace(a.Type) != "" {
			score += 10
		}
		if a.hasPayload() {
			score += 3
		}
		if strings.TrimSpace(a.Note) != "" {
			score++
		}
	}
	return score*100 + len(l.Actions)*5 + len(l.Unparsed) + len(l.Warnings) + len(l.Notes)
}

// ParseActionList decodes an action list document. A strict decode of the
// canonical schema and a lenient decode accepting common variants are both
// attempted and the richer result wins. False when neither succeeds.
func ParseActionList(doc string) (*ActionList, bool) {
	strict := parseStrict(doc)
	lenient := parseLenient(doc)
	switch {
	case strict == nil && lenient == nil:
		return nil, false
	case strict == nil:
		return lenient, true
	case lenient == nil:
		return strict, true
	case lenient.Quality() > strict.Quality():
		return lenient, true
	default:
		return strict, true
	}
}

func parseStrict(doc string) *ActionList {
	var l ActionList
	if err := json.Unmarshal([]byte(doc), &l); err != nil {
		return nil
	}
	return &l
}

var (
	rootActionKeys = []string{"actions", "commands", "cmds", "ops", "operations", "items"}
	typeKeys       = []string{"type", "action", "op", "operation", "cmd", "command"}
	payloadKeys    = []string{"payload", "params", "args", "data", "fields", "values"}
	pointKeys      = []string{"point", "label", "pointLabel", "point_name", "pointName", "point_label", "pointId", "point_id"}
	speciesKeys    = []string{"species", "name", "speciesName", "species_name", "speciesCn", "sp"}
	fromKeys       = []string{"from", "old", "oldName", "oldLabel", "pointFrom", "speciesFrom", "src"}
	toKeys         = []string{"to", "new", "newName", "newLabel", "pointTo", "speciesTo", "dst"}
	valueKeys      = []string{"value", "count", "num", "n"}
	deltaKeys      = []string{"delta", "change", "inc", "dec"}
	vcKeys         = []string{"vc", "vConc", "vConcMl", "v_conc", "vconc"}
	voKeys         = []string{"vo", "vOrig", "vOrigL", "v_orig", "vorig"}
	sourceKeys     = []string{"source", "origin", "via"}
	writeKeys      = []string{"writeToDb", "write_db", "saveToDb", "saveToDatabase"}
	noteKeys       = []string{"note", "reason", "memo"}
)

// field looks a key up without gjson path syntax, so keys such as
// "point.add" are matched literally.
func field(obj gjson.Result, key string) (gjson.Result, bool) {
	var out gjson.Result
	found := false
	obj.ForEach(func(k, v gjson.Result) bool {
		if k.String() == key {
			out, found = v, true
			return false
		}
		return true
	})
	return out, found
}

func firstField(obj gjson.Result, keys ...string) (gjson.Result, bool) {
	for _, k := range keys {
		if v, ok := field(obj, k); ok && v.Type != gjson.Null {
			return v, true
		}
	}
	return gjson.Result{}, false
}

func isPrimitive(v gjson.Result) bool {
	switch v.Type {
	case gjson.String, gjson.Number, gjson.True, gjson.False:
		return true
	}
	return false
}

func parseLenient(doc string) *ActionList {
	if !gjson.Valid(doc) {
		return nil
	}
	root := gjson.Parse(doc)

	var actionsEl gjson.Result
	hasActions := false
	switch {
	case root.IsObject():
		actionsEl, hasActions = firstField(root, rootActionKeys...)
	case root.IsArray():
		actionsEl, hasActions = root, true
	}

	out := &ActionList{}
	if hasActions {
		switch {
		case actionsEl.IsArray():
			for _, el := range actionsEl.Array() {
				if a := lenientAction(el, ""); a != nil {
					out.Actions = append(out.Actions, *a)
				}
			}
		case actionsEl.IsObject():
			actionsEl.ForEach(func(k, v gjson.Result) bool {
				if v.IsArray() {
					for _, el := range v.Array() {
						if a := lenientAction(el, k.String()); a != nil {
							out.Actions = append(out.Actions, *a)
						}
					}
				} else if a := lenientAction(v, k.String()); a != nil {
					out.Actions = append(out.Actions, *a)
				}
				return true
			})
		}
	}
	if root.IsObject() {
		if v, ok := firstField(root, "unparsed", "unknown", "rest", "others"); ok {
			out.Unparsed = stringList(v)
		}
		if v, ok := field(root, "notes"); ok {
			out.Notes = stringList(v)
		}
		if v, ok := field(root, "warnings"); ok {
			out.Warnings = stringList(v)
		}
	}
	return out
}

func isTypeKey(k string) bool {
	for _, t := range typeKeys {
		if t == k {
			return true
		}
	}
	return false
}

func lenientAction(el gjson.Result, forcedType string) *Action {
	if isPrimitive(el) {
		text := strings.TrimSpace(el.String())
		if text == "" {
			return nil
		}
		if forcedType != "" {
			return &Action{Type: forcedType}
		}
		return &Action{Type: text}
	}
	if !el.IsObject() {
		return nil
	}

	if forcedType == "" {
		var keys []string
		var only gjson.Result
		el.ForEach(func(k, v gjson.Result) bool {
			keys = append(keys, k.String())
			only = v
			return true
		})
		if len(keys) == 1 && !isTypeKey(keys[0]) {
			return lenientAction(only, keys[0])
		}
	}

	typ := forcedType
	if typ == "" {
		s, ok := stringAny(el, typeKeys...)
		if !ok {
			return nil
		}
		typ = s
	}

	var payload *gjson.Result
	for _, k := range payloadKeys {
		if v, ok := field(el, k); ok && v.IsObject() {
			payload = &v
			break
		}
	}
	str := func(keys ...string) string {
		if payload != nil {
			if s, ok := stringAny(*payload, keys...); ok {
				return s
			}
		}
		s, _ := stringAny(el, keys...)
		return s
	}
	num := func(keys ...string) *float64 {
		if payload != nil {
			if f, ok := floatAny(*payload, keys...); ok {
				return &f
			}
		}
		if f, ok := floatAny(el, keys...); ok {
			return &f
		}
		return nil
	}
	var write *bool
	if payload != nil {
		if b, ok := boolAny(*payload, writeKeys...); ok {
			write = &b
		}
	}
	if write == nil {
		if b, ok := boolAny(el, writeKeys...); ok {
			write = &b
		}
	}

	return &Action{
		Type:      typ,
		Point:     str(pointKeys[:6]...),
		Species:   str(speciesKeys...),
		From:      str(fromKeys...),
		To:        str(toKeys...),
		Value:     num(valueKeys...),
		Delta:     num(deltaKeys...),
		Vc:        num(vcKeys...),
		Vo:        num(voKeys...),
		Source:    str(sourceKeys...),
		WriteToDb: write,
		Note:      str(noteKeys...),
	}
}

func stringAny(obj gjson.Result, keys ...string) (string, bool) {
	for _, k := range keys {
		v, ok := field(obj, k)
		if !ok {
			continue
		}
		switch {
		case isPrimitive(v):
			if s := strings.TrimSpace(v.String()); s != "" {
				return s, true
			}
		case v.IsObject():
			if s, ok := stringAny(v, "label", "name", "text", "value"); ok {
				return s, true
			}
		case v.IsArray():
			arr := v.Array()
			if len(arr) > 0 && isPrimitive(arr[0]) {
				if s := strings.TrimSpace(arr[0].String()); s != "" {
					return s, true
				}
			}
		}
	}
	return "", false
}

func primitiveFloat(v gjson.Result) (float64, bool) {
	switch v.Type {
	case gjson.Number:
		return v.Num, true
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		return f, err == nil
	}
	return 0, false
}

func floatAny(obj gjson.Result, keys ...string) (float64, bool) {
	for _, k := range keys {
		v, ok := field(obj, k)
		if !ok {
			continue
		}
		switch {
		case isPrimitive(v):
			if f, ok := primitiveFloat(v); ok {
				return f, true
			}
		case v.IsObject():
			if f, ok := floatAny(v, "value", "count", "num", "n", "delta"); ok {
				return f, true
			}
		case v.IsArray():
			arr := v.Array()
			if len(arr) > 0 {
				if f, ok := primitiveFloat(arr[0]); ok {
					return f, true
				}
			}
		}
	}
	return 0, false
}

func boolAny(obj gjson.Result, keys ...string) (bool, bool) {
	for _, k := range keys {
		v, ok := field(obj, k)
		if !ok || !isPrimitive(v) {
			continue
		}
		switch v.Type {
		case gjson.True:
			return true, true
		case gjson.False:
			return false, true
		}
		switch strings.ToLower(strings.TrimSpace(v.String())) {
		case "true", "yes", "y", "1", "是", "写入", "保存", "需要", "要":
			return true, true
		case "false", "no", "n", "0", "否", "不写入", "不保存", "不要":
			return false, true
		}
	}
	return false, false
}

func stringList(v gjson.Result) []string {
	if isPrimitive(v) {
		if s := strings.TrimSpace(v.String()); s != "" {
			return []string{s}
		}
		return nil
	}
	if !v.IsArray() {
		return nil
	}
	var out []string
	for _, el := range v.Array() {
		if !isPrimitive(el) {
			continue
		}
		if s := strings.TrimSpace(el.String()); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// BulkMarker prefixes the final action list line of an assistant reply.
const BulkMarker = "FINAL_BULK_JSON"

var codeFence = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)\\s*```")

// ExtractJSONPayloads collects every JSON object or array embedded in text,
// in order and without duplicates: first those following marker, then fenced
// code blocks, then any balanced span.
func ExtractJSONPayloads(text, marker string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(s string) {
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	if strings.TrimSpace(marker) != "" {
		re := regexp.MustCompile(`(?is)` + regexp.QuoteMeta(marker) + `\s*:`)
		for _, loc := range re.FindAllStringIndex(text, -1) {
			if s, ok := firstBalanced(text[loc[1]:]); ok {
				add(s)
			}
		}
	}
	for _, m := range codeFence.FindAllStringSubmatch(text, -1) {
		if s, ok := firstBalanced(m[1]); ok {
			add(s)
		}
	}
	for _, s := range allBalanced(text) {
		add(s)
	}
	return out
}

// ExtractBulkJSON picks the payload most likely to be the action list.
func ExtractBulkJSON(text string) (string, bool) {
	all := ExtractJSONPayloads(text, BulkMarker)
	if len(all) == 0 {
		all = ExtractJSONPayloads(text, "")
	}
	if len(all) == 0 {
		return "", false
	}
	for _, s := range all {
		for _, k := range []string{`"actions"`, `"commands"`, `"cmds"`, `"ops"`, `"operations"`} {
			if strings.Contains(s, k) {
				return s, true
			}
		}
	}
	return all[0], true
}

// BestActionList decodes every payload of an assistant reply and keeps the
// highest-quality list.
func BestActionList(reply string) (*ActionList, bool) {
	payloads := ExtractJSONPayloads(reply, BulkMarker)
	if len(payloads) == 0 {
		payloads = ExtractJSONPayloads(reply, "")
	}
	var best *ActionList
	for _, p := range payloads {
		l, ok := ParseActionList(p)
		if !ok {
			continue
		}
		if best == nil || l.Quality() > best.Quality() {
			best = l
		}
	}
	return best, best != nil
}

func firstBalanced(text string) (string, bool) {
	all := allBalanced(text)
	if len(all) == 0 {
		return "", false
	}
	return all[0], true
}

func allBalanced(text string) []string {
	var out []string
	index := 0
	for index < len(text) {
		rel := strings.IndexAny(text[index:], "{[")
		if rel < 0 {
			break
		}
		start := index + rel
		open := text[start]
		closer := byte('}')
		if open == '[' {
			closer = ']'
		}
		depth := 0
		inString, escape, found := false, false, false
		for i := start; i < len(text); i++ {
			c := text[i]
			if inString {
				switch {
				case escape:
					escape = false
				case c == '\\':
					escape = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case open:
				depth++
			case closer:
				depth--
				if depth == 0 {
					out = append(out, text[start:i+1])
					index = i + 1
					found = true
				}
			}
			if found {
				break
			}
		}
		if !found {
			break
		}
	}
	return out
}
