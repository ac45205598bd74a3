package engine

import (
	"errors"
	"testing"
)

func TestRenderMapping(t *testing.T) {
	ctx := NewMappingContext(
		map[string]any{"order_id": "ord-42", "amount": 99.5},
		map[string]any{"customer": "acme"},
	)

	mapping := map[string]string{
		"order":    "{{ .Event.order_id }}",
		"amount":   "{{ .Event.amount }}",
		"customer": "{{ .Context.customer }}",
		"static":   "fixed-value",
	}

	out, err := RenderMapping(mapping, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if out["order"] != "ord-42" {
		t.Errorf("order = %v", out["order"])
	}
	// Число декодируется из JSON-представления
	if out["amount"] != 99.5 {
		t.Errorf("amount = %v (%T), want 99.5", out["amount"], out["amount"])
	}
	if out["customer"] != "acme" {
		t.Errorf("customer = %v", out["customer"])
	}
	if out["static"] != "fixed-value" {
		t.Errorf("static = %v", out["static"])
	}
}

func TestRenderMapping_MissingKeyRendersEmpty(t *testing.T) {
	ctx := NewMappingContext(nil, nil)

	out, err := RenderMapping(map[string]string{"v": "{{ .Event.ghost }}"}, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["v"] != "" {
		t.Errorf("missing key should render empty, got %v", out["v"])
	}
}

func TestRenderMapping_ParseError(t *testing.T) {
	ctx := NewMappingContext(nil, nil)

	_, err := RenderMapping(map[string]string{"v": "{{ .Broken"}, ctx)
	if !errors.Is(err, ErrTemplateParse) {
		t.Errorf("expected ErrTemplateParse, got %v", err)
	}
}

func TestRenderCondition(t *testing.T) {
	ctx := NewMappingContext(nil, map[string]any{"count": 5.0})

	tests := []struct {
		expr    string
		want    bool
		wantErr bool
	}{
		{"true", true, false},
		{"false", false, false},
		{"{{ gt .Context.count 3.0 }}", true, false},
		{"{{ gt .Context.count 10.0 }}", false, false},
		{"maybe", false, true},
	}

	for _, tt := range tests {
		got, err := RenderCondition(tt.expr, ctx)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tt.expr)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error: %v", tt.expr, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%q = %v, want %v", tt.expr, got, tt.want)
		}
	}
}

func TestMatchFilter(t *testing.T) {
	payload := map[string]any{
		"status": "paid",
		"order": map[string]any{
			"region": "eu",
			"total":  120,
		},
	}

	tests := []struct {
		name   string
		filter map[string]any
		want   bool
	}{
		{"empty filter matches", nil, true},
		{"top-level match", map[string]any{"status": "paid"}, true},
		{"top-level mismatch", map[string]any{"status": "refunded"}, false},
		{"dotted path match", map[string]any{"order.region": "eu"}, true},
		{"dotted path mismatch", map[string]any{"order.region": "us"}, false},
		{"missing path", map[string]any{"order.ghost": "x"}, false},
		{"numeric compare by string form", map[string]any{"order.total": 120}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchFilter(tt.filter, payload); got != tt.want {
				t.Errorf("MatchFilter() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCompareThreshold(t *testing.T) {
	tests := []struct {
		value, threshold float64
		operator         string
		want             bool
		wantErr          bool
	}{
		{10, 5, ">", true, false},
		{5, 5, ">", false, false},
		{5, 5, ">=", true, false},
		{3, 5, "<", true, false},
		{5, 5, "<=", true, false},
		{1, 2, "~", false, true},
	}

	for _, tt := range tests {
		got, err := CompareThreshold(tt.value, tt.threshold, tt.operator)
		if tt.wantErr {
			if err == nil {
				t.Errorf("operator %q: expected error", tt.operator)
			}
			continue
		}
		if err != nil {
			t.Errorf("operator %q: unexpected error: %v", tt.operator, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%v %s %v = %v, want %v", tt.value, tt.operator, tt.threshold, got, tt.want)
		}
	}
}
