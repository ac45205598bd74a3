package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

// MappingContext — данные для рендеринга input_mapping и condition-выражений.
//
// В шаблонах доступны:
//   - {{ .Event.field }}   — payload входящего события
//   - {{ .Context.key }}   — контекст instance (для sub-workflow — родителя)
//   - {{ .Env.VAR }}       — переменные окружения
type MappingContext struct {
	// Event — payload события, запустившего триггер.
	Event map[string]any `json:"event"`

	// Context — контекст instance.
	Context map[string]any `json:"context"`

	// Env — переменные окружения.
	Env map[string]string `json:"env"`
}

// NewMappingContext создаёт контекст рендеринга.
func NewMappingContext(event, instanceCtx map[string]any) *MappingContext {
	if event == nil {
		event = make(map[string]any)
	}
	if instanceCtx == nil {
		instanceCtx = make(map[string]any)
	}
	return &MappingContext{
		Event:   event,
		Context: instanceCtx,
		Env:     make(map[string]string),
	}
}

// templateFuncs — дополнительные функции для шаблонов.
var templateFuncs = template.FuncMap{
	// json — сериализует значение в JSON строку
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return string(b)
	},

	// default — возвращает значение по умолчанию, если аргумент пуст
	"default": func(def, val any) any {
		if val == nil || val == "" {
			return def
		}
		return val
	},
}

// RenderMapping рендерит input_mapping в конкретные значения.
//
// Каждое значение — Go template; результат, похожий на JSON
// (число, bool, объект), декодируется, остальное остаётся строкой.
func RenderMapping(mapping map[string]string, ctx *MappingContext) (map[string]any, error) {
	out := make(map[string]any, len(mapping))

	for key, tmpl := range mapping {
		rendered, err := renderTemplate(tmpl, ctx)
		if err != nil {
			return nil, fmt.Errorf("mapping %q: %w", key, err)
		}

		var decoded any
		if err := json.Unmarshal([]byte(rendered), &decoded); err == nil {
			out[key] = decoded
		} else {
			out[key] = rendered
		}
	}

	return out, nil
}

// RenderCondition вычисляет condition-выражение над контекстом.
// Шаблон должен отрендериться в "true" или "false".
func RenderCondition(expr string, ctx *MappingContext) (bool, error) {
	rendered, err := renderTemplate(expr, ctx)
	if err != nil {
		return false, err
	}

	switch strings.TrimSpace(rendered) {
	case "true":
		return true, nil
	case "false", "":
		return false, nil
	default:
		return false, fmt.Errorf("%w: condition rendered %q, want true/false",
			ErrTemplateRender, rendered)
	}
}

// renderTemplate рендерит один шаблон.
func renderTemplate(tmpl string, ctx *MappingContext) (string, error) {
	// Быстрый путь: строка без шаблона
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := template.New("mapping").Funcs(templateFuncs).Option("missingkey=zero").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateParse, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}

	// missingkey=zero рендерит отсутствующие ключи как "<no value>"
	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}

// MatchFilter проверяет payload события против предиката фильтра.
//
// Каждая запись фильтра — "путь → ожидаемое значение"; путь с точками
// спускается по вложенным объектам ("order.status"). Пустой фильтр
// матчит всё.
func MatchFilter(filter map[string]any, payload map[string]any) bool {
	for path, expected := range filter {
		actual, ok := LookupPath(payload, path)
		if !ok {
			return false
		}
		if fmt.Sprintf("%v", actual) != fmt.Sprintf("%v", expected) {
			return false
		}
	}
	return true
}

// LookupPath спускается по payload по точечному пути.
func LookupPath(payload map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = payload

	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// CompareThreshold сравнивает значение метрики с порогом.
// Поддерживаются операторы ">", ">=", "<", "<=".
func CompareThreshold(value, threshold float64, operator string) (bool, error) {
	switch operator {
	case ">":
		return value > threshold, nil
	case ">=":
		return value >= threshold, nil
	case "<":
		return value < threshold, nil
	case "<=":
		return value <= threshold, nil
	default:
		return false, fmt.Errorf("unknown comparison operator: %q", operator)
	}
}
