package summary

import (
	"bytes"
	"math"
	"strings"
	"testing"
)

func TestSummaryStatistics(t *testing.T) {
	s := New(false)
	s.AddAll([]float64{5, 1, 3, 2, 4})

	if s.Count() != 5 {
		t.Errorf("Count = %d; want 5", s.Count())
	}
	if got := s.Mean(); got != 3 {
		t.Errorf("Mean = %v; want 3", got)
	}
	if got := s.Median(); got != 3 {
		t.Errorf("Median = %v; want 3", got)
	}
	if got := s.Std(); math.Abs(got-math.Sqrt2) > 1e-12 {
		t.Errorf("Std = %v; want sqrt(2)", got)
	}
	if s.Min() != 1 || s.Max() != 5 {
		t.Errorf("Min/Max = %v/%v; want 1/5", s.Min(), s.Max())
	}
}

func TestSummaryIgnoreZero(t *testing.T) {
	s := New(true)
	s.AddAll([]float64{0, 2, 0, 4, 0})
	if s.Count() != 2 {
		t.Errorf("Count = %d; want 2", s.Count())
	}
	if got := s.Mean(); got != 3 {
		t.Errorf("Mean = %v; want 3", got)
	}
	if s.Min() != 2 {
		t.Errorf("Min = %v; want 2", s.Min())
	}
}

func TestSummarySkipsNonFinite(t *testing.T) {
	s := New(false)
	s.AddAll([]float64{1, math.NaN(), math.Inf(1), math.Inf(-1), 3})
	if s.Count() != 2 {
		t.Errorf("Count = %d; want 2", s.Count())
	}
	if got := s.Mean(); got != 2 {
		t.Errorf("Mean = %v; want 2", got)
	}
}

func TestSummaryEmpty(t *testing.T) {
	s := New(false)
	if s.Count() != 0 {
		t.Errorf("Count = %d; want 0", s.Count())
	}
	for name, got := range map[string]float64{
		"Mean": s.Mean(), "Median": s.Median(), "Std": s.Std(),
		"Min": s.Min(), "Max": s.Max(),
	} {
		if !math.IsNaN(got) {
			t.Errorf("%s on empty summary = %v; want NaN", name, got)
		}
	}
}

func TestSummaryPrint(t *testing.T) {
	var buf bytes.Buffer
	PrintHeader(&buf)
	s := New(false)
	s.AddAll([]float64{1, 2, 3})
	s.Print(&buf, "tvalue")

	out := buf.String()
	if !strings.Contains(out, "volume") || !strings.Contains(out, "tvalue") {
		t.Errorf("report output missing headings or label:\n%s", out)
	}

	// An empty summary still prints a row with a zero count.
	buf.Reset()
	New(false).Print(&buf, "empty")
	if !strings.Contains(buf.String(), "empty") {
		t.Errorf("empty summary row missing label:\n%s", buf.String())
	}
}

func TestHistogram(t *testing.T) {
	h := NewHistogram(0, 10, 5)
	for _, v := range []float64{0.5, 1, 3, 9.9, -4, 15} {
		h.Add(v)
	}
	counts := h.Counts()
	if len(counts) != 5 {
		t.Fatalf("bins = %d; want 5", len(counts))
	}
	// Out-of-range values clamp into the edge bins.
	if counts[0] != 3 {
		t.Errorf("bin 0 = %d; want 3", counts[0])
	}
	if counts[4] != 2 {
		t.Errorf("bin 4 = %d; want 2", counts[4])
	}
	if got := h.BinCentre(0); got != 1 {
		t.Errorf("BinCentre(0) = %v; want 1", got)
	}
	if got := h.BinCentre(4); got != 9 {
		t.Errorf("BinCentre(4) = %v; want 9", got)
	}
}
