package batchedit

import (
	"regexp"
	"strings"
	"unicode"
)

// Command is a typed instruction recognized in one free-text clause.
type Command interface {
	RawClause() string
	command()
}

// SetCountCommand sets the count of a species at a point. An empty Point
// means the active point.
type SetCountCommand struct {
	Raw     string
	Point   string
	Species string
	Value   int
}

// DeltaCountCommand adjusts a count by a signed amount.
type DeltaCountCommand struct {
	Raw     string
	Point   string
	Species string
	Delta   int
}

// DeleteSpeciesCommand removes a species from the whole dataset when Point is
// empty, otherwise zeroes its count at Point.
type DeleteSpeciesCommand struct {
	Raw     string
	Point   string
	Species string
}

func (c SetCountCommand) RawClause() string      { return c.Raw }
func (c DeltaCountCommand) RawClause() string    { return c.Raw }
func (c DeleteSpeciesCommand) RawClause() string { return c.Raw }

func (SetCountCommand) command()      {}
func (DeltaCountCommand) command()    {}
func (DeleteSpeciesCommand) command() {}

// ClauseResult is the output of ParseClauses. Errors carry the raw clause and
// a reason, one entry per rejected clause.
type ClauseResult struct {
	Commands []Command
	Errors   []string
}

const numeralClass = `[\d一二三四五六七八九十百千两零]`

var (
	setPattern = regexp.MustCompile(
		`(?:把|将)?(?:(?P<point>[^的]{1,20})的)?(?P<species>.+?)(?:的)?(?:计数|个数|数量)?(?:改为|设置为|设为|=|为)(?P<num>[-+]?` + numeralClass + `+)`)
	deltaPattern = regexp.MustCompile(
		`(?:(?P<point>[^的]{1,20})的)?(?P<species>.+?)(?:的)?(?:计数|个数|数量)?(?P<op>增加|加上|加|减少|减去|减)(?P<num>` + numeralClass + `+)?(?:个|只|条)?$`)
	addPattern = regexp.MustCompile(
		`(?:在)?(?P<point>[^，,。；;]{1,20}?)(?:点位|采样点|点)?(?:新增|添加|增加)(?:物种)?(?P<species>[^，,。；;]+?)(?P<num>` + numeralClass + `+)?(?:个|只|条)?$`)
	deletePattern = regexp.MustCompile(
		`(?:删除|移除|删掉)(?:(?P<point>[^的]{1,20})的)?(?P<species>.+)`)

	whitespaceRun = regexp.MustCompile(`\s+`)
)

var connectives = []string{"然后", "并且", "同时", "另外"}

const (
	reasonNoSpecies = "未识别到物种名称"
	reasonNoPoint   = "未识别到点位"
	reasonNoMatch   = "未识别到可执行指令（可用：改为/设置为、增加/减少、删除）"
)

// SplitClauses cuts free text into clauses at line breaks, commas, full
// stops, semicolons and before the connectives 然后/并且/同时/另外. The
// connective itself is dropped and empty clauses are skipped.
func SplitClauses(input string) []string {
	text := strings.ReplaceAll(strings.TrimSpace(input), "\u3000", " ")
	segments := strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case '\n', '\r', ',', '，', '。', '；', ';':
			return true
		}
		return false
	})
	var out []string
	for _, seg := range segments {
		seg = whitespaceRun.ReplaceAllString(seg, " ")
		for _, piece := range splitOnConnectives(seg) {
			piece = strings.TrimFunc(piece, func(r rune) bool {
				return unicode.IsSpace(r) || strings.ContainsRune(",，。;；", r)
			})
			if piece != "" {
				out = append(out, piece)
			}
		}
	}
	return out
}

func splitOnConnectives(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); {
		matched := ""
		for _, c := range connectives {
			if strings.HasPrefix(s[i:], c) {
				matched = c
				break
			}
		}
		if matched == "" {
			i++
			continue
		}
		out = append(out, s[start:i])
		i += len(matched)
		start = i
	}
	return append(out, s[start:])
}

func cleanSpeciesToken(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "物种")
	s = strings.TrimPrefix(s, "一个")
	s = strings.TrimSuffix(s, "物种")
	for _, filler := range []string{"的个数", "个数", "数量", "计数"} {
		s = strings.ReplaceAll(s, filler, "")
	}
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "：:。，,；;")
	return strings.TrimSpace(s)
}

// cleanPointToken drops trailing point markers so "1号点位" reads as "1".
// Phrases naming the active point are kept verbatim.
func cleanPointToken(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.Contains(s, "当前") || strings.Contains(s, "本点") {
		return s
	}
	out := s
	for _, suffix := range []string{"采样点", "点位", "点"} {
		if strings.HasSuffix(out, suffix) {
			out = strings.TrimSuffix(out, suffix)
			break
		}
	}
	out = strings.TrimSpace(strings.TrimSuffix(out, "号"))
	if out == "" {
		return s
	}
	return out
}

func group(re *regexp.Regexp, m []string, name string) string {
	i := re.SubexpIndex(name)
	if i < 0 || i >= len(m) {
		return ""
	}
	return m[i]
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// ParseClauses recognizes set, delta, add-at-point and delete instructions in
// free text. Patterns are tried in that order and the first match wins.
func ParseClauses(input string) ClauseResult {
	var res ClauseResult
	addError := func(raw, msg string) {
		res.Errors = append(res.Errors, "「"+raw+"」："+msg)
	}

	for _, clause := range SplitClauses(input) {
		if m := setPattern.FindStringSubmatch(clause); m != nil {
			species := cleanSpeciesToken(group(setPattern, m, "species"))
			if species == "" {
				addError(clause, reasonNoSpecies)
				continue
			}
			res.Commands = append(res.Commands, SetCountCommand{
				Raw:     clause,
				Point:   cleanPointToken(group(setPattern, m, "point")),
				Species: species,
				Value:   ParseNumeral(group(setPattern, m, "num")),
			})
			continue
		}

		if m := deltaPattern.FindStringSubmatch(clause); m != nil {
			species := cleanSpeciesToken(group(deltaPattern, m, "species"))
			if species == "" {
				addError(clause, reasonNoSpecies)
				continue
			}
			n := 1
			if num := group(deltaPattern, m, "num"); num != "" {
				n = ParseNumeral(num)
			}
			op := group(deltaPattern, m, "op")
			delta := absInt(n)
			if strings.Contains(op, "减") || strings.Contains(op, "少") {
				delta = -delta
			}
			res.Commands = append(res.Commands, DeltaCountCommand{
				Raw:     clause,
				Point:   cleanPointToken(group(deltaPattern, m, "point")),
				Species: species,
				Delta:   delta,
			})
			continue
		}

		if m := addPattern.FindStringSubmatch(clause); m != nil {
			point := cleanPointToken(group(addPattern, m, "point"))
			species := cleanSpeciesToken(group(addPattern, m, "species"))
			switch {
			case point == "":
				addError(clause, reasonNoPoint)
			case species == "":
				addError(clause, reasonNoSpecies)
			default:
				n := 1
				if num := group(addPattern, m, "num"); num != "" {
					n = ParseNumeral(num)
				}
				res.Commands = append(res.Commands, DeltaCountCommand{
					Raw:     clause,
					Point:   point,
					Species: species,
					Delta:   absInt(n),
				})
			}
			continue
		}

		if m := deletePattern.FindStringSubmatch(clause); m != nil {
			point := cleanPointToken(group(deletePattern, m, "point"))
			names := strings.FieldsFunc(group(deletePattern, m, "species"), func(r rune) bool {
				return strings.ContainsRune("、，,和及", r)
			})
			before := len(res.Commands)
			for _, n := range names {
				if sp := cleanSpeciesToken(n); sp != "" {
					res.Commands = append(res.Commands, DeleteSpeciesCommand{Raw: clause, Point: point, Species: sp})
				}
			}
			if len(res.Commands) == before {
				addError(clause, reasonNoSpecies)
			}
			continue
		}

		addError(clause, reasonNoMatch)
	}
	return res
}

// CommandsToActions converts recognized clauses to the action form consumed
// by the simulator. A point-scoped delete becomes a zero count-set.
func CommandsToActions(cmds []Command) []Action {
	out := make([]Action, 0, len(cmds))
	for _, c := range cmds {
		switch cmd := c.(type) {
		case SetCountCommand:
			v := float64(cmd.Value)
			out = append(out, Action{Type: string(KindCountSet), Point: cmd.Point, Species: cmd.Species, Value: &v})
		case DeltaCountCommand:
			d := float64(cmd.Delta)
			out = append(out, Action{Type: string(KindCountDelta), Point: cmd.Point, Species: cmd.Species, Delta: &d})
		case DeleteSpeciesCommand:
			if cmd.Point == "" {
				out = append(out, Action{Type: string(KindSpeciesDelete), Species: cmd.Species})
				continue
			}
			zero := 0.0
			out = append(out, Action{Type: string(KindCountSet), Point: cmd.Point, Species: cmd.Species, Value: &zero})
		}
	}
	return out
}
