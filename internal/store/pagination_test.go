package store

import (
	"errors"
	"testing"
	"time"
)

func TestCursorRoundTrip(t *testing.T) {
	want := OrderCursor{CreatedAt: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC), ID: 42}

	got, err := DecodeCursor(EncodeCursor(want))
	if err != nil {
		t.Fatalf("Decode cursor: %v", err)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) || got.ID != want.ID {
		t.Errorf("Expected %+v, got %+v", want, got)
	}
}

func TestDecodeCursor(t *testing.T) {
	cursor, err := DecodeCursor("")
	if err != nil || cursor != nil {
		t.Errorf("Empty cursor should mean first page, got %v, %v", cursor, err)
	}

	for _, bad := range []string{"not base64!", "bm90IGpzb24="} {
		if _, err := DecodeCursor(bad); !errors.Is(err, ErrInvalidCursor) {
			t.Errorf("Expected invalid cursor for %q, got: %v", bad, err)
		}
	}
}

func TestNormalizePage(t *testing.T) {
	tests := []struct {
		page, size         int
		wantPage, wantSize int
	}{
		{0, 0, 1, defaultPageSize},
		{3, 10, 3, 10},
		{-1, 1000, 1, maxPageSize},
	}

	for _, tt := range tests {
		page, size := normalizePage(tt.page, tt.size)
		if page != tt.wantPage || size != tt.wantSize {
			t.Errorf("normalizePage(%d, %d) = %d, %d", tt.page, tt.size, page, size)
		}
	}
}

func TestNewOffsetPage(t *testing.T) {
	page := newOffsetPage([]int{1, 2}, 21, 2, 10)
	if page.TotalPages != 3 {
		t.Errorf("Expected 3 pages, got %d", page.TotalPages)
	}
}
