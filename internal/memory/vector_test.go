package memory

import (
	"math"
	"testing"
)

func TestVectorRoundTrip(t *testing.T) {
	original := []float32{0.1, -2.5, 3.75, 0}
	blob, err := EncodeVector(original)
	if err != nil {
		t.Fatalf("EncodeVector error: %v", err)
	}
	decoded, err := DecodeVector(blob)
	if err != nil {
		t.Fatalf("DecodeVector error: %v", err)
	}
	if len(decoded) != len(original) {
		t.Fatalf("decoded length = %d, want %d", len(decoded), len(original))
	}
	for i := range original {
		if decoded[i] != original[i] {
			t.Fatalf("decoded[%d] = %v, want %v", i, decoded[i], original[i])
		}
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name    string
		a, b    []float32
		want    float64
		wantErr bool
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1, false},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1, false},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0, false},
		{"dimension mismatch", []float32{1, 2}, []float32{1, 2, 3}, 0, true},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got score %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("CosineSimilarity error: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("similarity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecodeVectorRejectsTruncatedBlob(t *testing.T) {
	blob, err := EncodeVector([]float32{1, 2, 3})
	if err != nil {
		t.Fatalf("EncodeVector error: %v", err)
	}
	if _, err := DecodeVector(blob[:len(blob)-2]); err == nil {
		t.Fatal("expected error for truncated blob")
	}
}
