package koredate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse("2006-01-02 15:04", s)
	if err != nil {
		t.Fatalf("parse fixture time: %v", err)
	}
	return tm
}

func TestConvertRelativeDate(t *testing.T) {
	now := mustTime(t, "2025-12-16 10:00") // a Tuesday

	tests := []struct {
		name string
		expr string
		want string
	}{
		{"today", "오늘 저녁에 보자", "2025-12-16"},
		{"tomorrow", "내일 오후 6시", "2025-12-17"},
		{"day after tomorrow", "모레 점심", "2025-12-18"},
		{"this week keyword", "이번주 중에", "2025-12-16"},
		{"weekday this week", "이번주 금요일", "2025-12-19"},
		{"weekday next week", "다음주 금요일 저녁", "2025-12-26"},
		{"bare month day", "12월 25일에 만나자", "2025-12-25"},
		{"bare month day rolls to next year", "1월 3일에 만나자", "2026-01-03"},
		{"day only rolls to next month", "5일에 만나자", "2026-01-05"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ConvertRelativeDate(tt.expr, now)
			assert.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConvertRelativeTime(t *testing.T) {
	tests := []struct {
		name     string
		expr     string
		fullText string
		want     string
	}{
		{"explicit pm", "오후 7시", "오후 7시", "19:00"},
		{"explicit am", "오전 9시", "오전 9시", "09:00"},
		{"bare low hour assumed pm", "6시", "6시에 보자", "18:00"},
		{"bare mid hour with evening keyword", "7시", "저녁 7시에 술 한잔", "19:00"},
		{"bare mid hour without keyword assumed am", "7시", "7시에 조깅", "07:00"},
		{"half hour", "3시 반", "3시 반에 보자", "15:30"},
		{"lunch keyword", "점심때 보자", "점심때 보자", "12:00"},
		{"dinner keyword", "저녁에 밥", "저녁에 밥", "18:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ConvertRelativeTime(tt.expr, tt.fullText)
			assert.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInferAMPM(t *testing.T) {
	tests := []struct {
		name string
		hour int
		text string
		want int
	}{
		{"low hour always pm", 3, "3시에 보자", 15},
		{"mid hour evening keyword", 8, "저녁 8시", 20},
		{"mid hour morning keyword", 8, "아침 8시 조깅", 8},
		{"mid hour no keyword defaults am", 9, "9시에 보자", 9},
		{"unambiguous hour passes through", 14, "14시에 보자", 14},
		{"noon passes through", 12, "12시에 보자", 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferAMPM(tt.hour, tt.text))
		})
	}
}
