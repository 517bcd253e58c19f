package pagination

import (
	"reflect"
	"testing"
)

func TestTotalPages(t *testing.T) {
	tests := []struct {
		count, total int
		want         int
	}{
		{20, 47, 3},
		{20, 40, 2},
		{20, 20, 1},
		{20, 1, 1},
		{20, 0, 0},
		{0, 47, 0},
		{-1, 47, 0},
	}

	for _, tt := range tests {
		if got := TotalPages(tt.count, tt.total); got != tt.want {
			t.Errorf("TotalPages(%d, %d) = %d, want %d", tt.count, tt.total, got, tt.want)
		}
	}
}

func TestFollowUpPages(t *testing.T) {
	tests := []struct {
		name               string
		page, count, total int
		want               []int
	}{
		{"fan out from first page", 1, 20, 47, []int{2, 3}},
		{"exact multiple", 1, 20, 60, []int{2, 3}},
		{"single page", 1, 20, 20, nil},
		{"fewer than a page", 1, 5, 5, nil},
		{"later page never fans out", 2, 20, 47, nil},
		{"zero count", 1, 0, 47, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FollowUpPages(tt.page, tt.count, tt.total)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FollowUpPages(%d, %d, %d) = %v, want %v", tt.page, tt.count, tt.total, got, tt.want)
			}
		})
	}
}

func TestPartition(t *testing.T) {
	ids := make([]int64, 250)
	for i := range ids {
		ids[i] = int64(i + 1)
	}

	groups := Partition(ids, 100)
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(groups))
	}
	sizes := []int{len(groups[0]), len(groups[1]), len(groups[2])}
	if !reflect.DeepEqual(sizes, []int{100, 100, 50}) {
		t.Errorf("group sizes = %v", sizes)
	}
	if groups[1][0] != 101 || groups[2][49] != 250 {
		t.Error("groups must preserve order")
	}

	// Groups must not alias the input.
	groups[0][0] = -1
	if ids[0] != 1 {
		t.Error("Partition() aliased the input slice")
	}
}

func TestPartition_Edges(t *testing.T) {
	if got := Partition(nil, 100); got != nil {
		t.Errorf("Partition(nil) = %v, want nil", got)
	}
	if got := Partition([]int64{1, 2, 3}, 0); len(got) != 1 || len(got[0]) != 3 {
		t.Errorf("non-positive group size should fall back to default, got %v", got)
	}
	if got := Partition([]int64{1, 2, 3}, 1); len(got) != 3 {
		t.Errorf("group size 1 should yield 3 groups, got %d", len(got))
	}
}
