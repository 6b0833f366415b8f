package scheduler

import (
	"testing"

	"github.com/worph/meta-sort/internal/manifest"
)

func TestClassifierUsesDefaultUntilEnoughSamples(t *testing.T) {
	c := newClassifier()
	m := manifest.Manifest{ID: "a", DefaultQueue: manifest.Background}

	for i := 0; i < 5; i++ {
		c.record("a", 10)
	}
	if q := c.queueFor(m, 10, 1000); q != manifest.Background {
		t.Fatalf("expected default queue before threshold, got %s", q)
	}
}

func TestClassifierSwitchesToFastBelowThreshold(t *testing.T) {
	c := newClassifier()
	m := manifest.Manifest{ID: "a", DefaultQueue: manifest.Background}

	for i := 0; i < 20; i++ {
		c.record("a", 10)
	}
	if q := c.queueFor(m, 10, 1000); q != manifest.Fast {
		t.Fatalf("expected fast queue once mean is below threshold, got %s", q)
	}
}

func TestClassifierStaysBackgroundAboveThreshold(t *testing.T) {
	c := newClassifier()
	m := manifest.Manifest{ID: "a", DefaultQueue: manifest.Fast}

	for i := 0; i < 20; i++ {
		c.record("a", 5000)
	}
	if q := c.queueFor(m, 10, 1000); q != manifest.Background {
		t.Fatalf("expected background queue once mean exceeds threshold, got %s", q)
	}
}
