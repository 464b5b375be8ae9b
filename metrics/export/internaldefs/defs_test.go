package internaldefs

import (
	"strings"
	"testing"

	"github.com/tokutei-learning/tokutei"
)

func TestEveryCounterHasOneDefinition(t *testing.T) {
	seen := make(map[tokutei.MetricID]bool)
	names := make(map[string]bool)
	for _, def := range CounterDefs {
		if seen[def.ID] {
			t.Fatalf("duplicate id %d", def.ID)
		}
		if names[def.Name] {
			t.Fatalf("duplicate name %s", def.Name)
		}
		if !strings.HasPrefix(def.Name, "tokutei_") || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("bad counter name %s", def.Name)
		}
		seen[def.ID] = true
		names[def.Name] = true
	}
	// Every id except the histogram is a counter.
	if len(CounterDefs)+len(HistogramDefs) != tokutei.MetricIDCount {
		t.Fatalf("%d counters + %d histograms != %d ids", len(CounterDefs), len(HistogramDefs), tokutei.MetricIDCount)
	}
}

func TestBucketHelpers(t *testing.T) {
	if len(HistogramBounds) != BucketCount || len(HistogramBoundSuffix) != BucketCount {
		t.Fatal("bounds and suffixes must match the bucket count")
	}
	n := NormalizeBuckets([]uint64{1, 2, 3})
	if n != [BucketCount]uint64{1, 2, 3} {
		t.Fatalf("unexpected normalized buckets %v", n)
	}
	c := CumulativeBuckets(n)
	if c[2] != 6 || c[BucketCount-1] != 6 {
		t.Fatalf("unexpected cumulative buckets %v", c)
	}
}
