package client

import (
	"strings"
	"testing"
	"time"

	"show-messenger/internal/constants"
	"show-messenger/internal/messaging"
)

func TestDayLabel(t *testing.T) {
	loc := time.FixedZone("CST", 8*3600)
	now := time.Date(2025, 6, 15, 14, 30, 0, 0, loc)

	tests := []struct {
		name string
		day  time.Time
		want string
	}{
		{"今天", time.Date(2025, 6, 15, 0, 0, 0, 0, loc), "今天"},
		{"昨天", time.Date(2025, 6, 14, 0, 0, 0, 0, loc), "昨天"},
		{"今年其他日期", time.Date(2025, 3, 1, 0, 0, 0, 0, loc), "3月1日"},
		{"往年日期", time.Date(2024, 12, 31, 0, 0, 0, 0, loc), "2024年12月31日"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DayLabel(tt.day, loc, now); got != tt.want {
				t.Errorf("DayLabel = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGroupByDayUsesSuppliedLocation(t *testing.T) {
	loc := time.FixedZone("CST", 8*3600)
	now := time.Date(2025, 6, 15, 10, 0, 0, 0, loc)

	// UTC 23:30 在 +8 時區已是次日 07:30，分組必須按指定時區的日界線
	msgs := []*messaging.Message{
		{ID: "m1", CreatedAt: time.Date(2025, 6, 13, 23, 30, 0, 0, time.UTC)},
		{ID: "m2", CreatedAt: time.Date(2025, 6, 14, 1, 0, 0, 0, time.UTC)},
		{ID: "m3", CreatedAt: time.Date(2025, 6, 14, 23, 0, 0, 0, time.UTC)},
	}

	groups := GroupByDay(msgs, loc, now)
	if len(groups) != 2 {
		t.Fatalf("expected 2 day groups, got %d", len(groups))
	}
	if groups[0].Label != "昨天" || len(groups[0].Messages) != 2 {
		t.Errorf("group 0: label %q with %d messages", groups[0].Label, len(groups[0].Messages))
	}
	if groups[1].Label != "今天" || len(groups[1].Messages) != 1 {
		t.Errorf("group 1: label %q with %d messages", groups[1].Label, len(groups[1].Messages))
	}
}

func TestFormatMessageTime(t *testing.T) {
	loc := time.FixedZone("CST", 8*3600)
	now := time.Date(2025, 6, 15, 14, 0, 0, 0, loc)

	today := time.Date(2025, 6, 15, 9, 5, 0, 0, loc)
	if got := FormatMessageTime(today, loc, now); got != "09:05" {
		t.Errorf("same-day time = %q", got)
	}

	other := time.Date(2025, 6, 1, 21, 45, 0, 0, loc)
	if got := FormatMessageTime(other, loc, now); got != "6月1日 21:45" {
		t.Errorf("other-day time = %q", got)
	}
}

func TestTruncatePreview(t *testing.T) {
	long := strings.Repeat("展", constants.PreviewMaxRunes+10)
	got := TruncatePreview(long)
	want := strings.Repeat("展", constants.PreviewMaxRunes) + "..."
	if got != want {
		t.Errorf("TruncatePreview = %q, want %q", got, want)
	}

	if got := TruncatePreview("短訊息\n第二行"); got != "短訊息 第二行" {
		t.Errorf("newline folding = %q", got)
	}
}

func TestFormatUnreadBadge(t *testing.T) {
	tests := []struct {
		count int
		want  string
	}{
		{0, ""},
		{-1, ""},
		{1, "1"},
		{99, "99"},
		{100, "99+"},
		{1500, "99+"},
	}

	for _, tt := range tests {
		if got := FormatUnreadBadge(tt.count); got != tt.want {
			t.Errorf("FormatUnreadBadge(%d) = %q, want %q", tt.count, got, tt.want)
		}
	}
}
