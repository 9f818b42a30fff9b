package tensor

import "testing"

func TestNewAndSample(t *testing.T) {
	x := New(2, 3, 4)
	if x.Len() != 24 {
		t.Fatalf("expected 24 values, got %d", x.Len())
	}
	if !x.HasShape(2, 3, 4) || x.HasShape(2, 12) {
		t.Fatalf("unexpected shape check for %v", x.Shape)
	}
	second := x.Sample(1)
	if len(second) != 12 {
		t.Fatalf("expected sample of 12, got %d", len(second))
	}
	second[0] = 7
	if x.Data[12] != 7 {
		t.Fatal("expected sample to alias tensor storage")
	}
	if x.Dim(2) != 4 || x.Dim(5) != 0 {
		t.Fatalf("unexpected Dim results")
	}
}

func TestFromData(t *testing.T) {
	if _, err := FromData(make([]float32, 5), 2, 3); err == nil {
		t.Fatal("expected mismatch error")
	}
	x, err := FromData([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	if err != nil {
		t.Fatalf("FromData: %v", err)
	}
	if got := x.Sample(1); got[0] != 4 {
		t.Fatalf("unexpected sample %v", got)
	}
}

func TestShapeIsCopied(t *testing.T) {
	shape := []int{1, 2}
	x := New(shape...)
	shape[0] = 9
	if x.Shape[0] != 1 {
		t.Fatal("shape should be copied")
	}
}
