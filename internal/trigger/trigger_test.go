package trigger

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Hive/internal/domain"
)

func TestEventMatches(t *testing.T) {
	trig := &domain.Trigger{
		Config: domain.TriggerConfig{
			EventType: "order.created",
			Filter: map[string]any{
				"order.status": "paid",
			},
		},
	}

	tests := []struct {
		name  string
		event domain.Event
		want  bool
	}{
		{
			name: "type and filter match",
			event: domain.Event{
				Type: "order.created",
				Payload: map[string]any{
					"order": map[string]any{"status": "paid"},
				},
			},
			want: true,
		},
		{
			name: "wrong event type",
			event: domain.Event{
				Type: "order.deleted",
				Payload: map[string]any{
					"order": map[string]any{"status": "paid"},
				},
			},
			want: false,
		},
		{
			name: "filter mismatch",
			event: domain.Event{
				Type: "order.created",
				Payload: map[string]any{
					"order": map[string]any{"status": "pending"},
				},
			},
			want: false,
		},
		{
			name:  "missing filter path",
			event: domain.Event{Type: "order.created", Payload: map[string]any{}},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EventMatches(trig, tt.event); got != tt.want {
				t.Errorf("EventMatches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEventMatches_EmptyFilter(t *testing.T) {
	trig := &domain.Trigger{
		Config: domain.TriggerConfig{EventType: "deploy.finished"},
	}
	event := domain.Event{Type: "deploy.finished", Payload: map[string]any{"env": "prod"}}

	if !EventMatches(trig, event) {
		t.Error("empty filter should match any payload")
	}
}

func TestCheckRequiredInputs(t *testing.T) {
	trig := &domain.Trigger{
		Config: domain.TriggerConfig{
			RequiredInputs: []string{"env", "service"},
		},
	}

	err := checkRequiredInputs(trig, map[string]any{"env": "prod", "service": "api"})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	err = checkRequiredInputs(trig, map[string]any{"env": "prod"})
	if !errors.Is(err, ErrMissingInput) {
		t.Errorf("expected ErrMissingInput, got %v", err)
	}
}

func TestFireKey(t *testing.T) {
	id := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	minute := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

	got := FireKey(id, minute)
	want := "11111111-2222-3333-4444-555555555555_1748781000"
	if got != want {
		t.Errorf("FireKey() = %q, want %q", got, want)
	}

	// Тот же тик с clock skew внутри минуты даёт тот же ключ
	skewed := minute.Truncate(time.Minute)
	if FireKey(id, skewed) != got {
		t.Error("fire key must be stable within the scheduled minute")
	}
}

func TestDueAtMinute(t *testing.T) {
	tests := []struct {
		name   string
		expr   string
		minute time.Time
		want   bool
	}{
		{
			name:   "every minute",
			expr:   "* * * * *",
			minute: time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC),
			want:   true,
		},
		{
			name:   "specific minute match",
			expr:   "30 12 * * *",
			minute: time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC),
			want:   true,
		},
		{
			name:   "specific minute no match",
			expr:   "30 12 * * *",
			minute: time.Date(2025, 6, 1, 12, 31, 0, 0, time.UTC),
			want:   false,
		},
		{
			name:   "hourly at zero",
			expr:   "0 * * * *",
			minute: time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC),
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DueAtMinute(tt.expr, "", tt.minute)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("DueAtMinute(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestDueAtMinute_Timezone(t *testing.T) {
	// 09:00 в Москве — 06:00 UTC
	minute := time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)

	due, err := DueAtMinute("0 9 * * *", "Europe/Moscow", minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !due {
		t.Error("9:00 Moscow cron should fire at 6:00 UTC")
	}

	due, err = DueAtMinute("0 9 * * *", "", minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if due {
		t.Error("9:00 UTC cron should not fire at 6:00 UTC")
	}
}

func TestDueAtMinute_InvalidExpr(t *testing.T) {
	_, err := DueAtMinute("not a cron", "", time.Now())
	if err == nil {
		t.Error("expected error for invalid cron expression")
	}
}

func TestValidateCronExpr(t *testing.T) {
	if err := ValidateCronExpr("*/5 * * * *"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateCronExpr("61 * * * *"); err == nil {
		t.Error("expected error for out-of-range minute")
	}
}
