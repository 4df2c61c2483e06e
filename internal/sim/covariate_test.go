package sim

import (
	"errors"
	"math"
	"testing"

	"studycore/pkg/domain"
)

func TestAttachCovariateDerivesSubjectMeans(t *testing.T) {
	table := domain.Table{
		{SubjectID: 1, Condition: "cold", Group: "hungry", Outcome: 0.50},
		{SubjectID: 1, Condition: "warm", Group: "hungry", Outcome: 0.70},
		{SubjectID: 2, Condition: "cold", Group: "hungry", Outcome: 0.40},
		{SubjectID: 2, Condition: "warm", Group: "hungry", Outcome: 0.60},
	}
	// One batch, one noise value per pending subject in ascending order.
	src := &scriptSampler{batches: [][]float64{{0.10, 0.20}}}

	out, err := AttachCovariate(src, table, domain.NoiseSpec{Mean: 0.10, StdDev: 0.02})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	wantBySubject := map[int]float64{1: 0.60 + 0.10, 2: 0.50 + 0.20}
	for _, row := range out {
		if row.Covariate == nil {
			t.Fatalf("row %+v lacks covariate", row)
		}
		want := wantBySubject[row.SubjectID]
		if math.Abs(*row.Covariate-want) > 1e-12 {
			t.Fatalf("subject %d covariate %v, want %v", row.SubjectID, *row.Covariate, want)
		}
	}
	// Input untouched.
	for _, row := range table {
		if row.Covariate != nil {
			t.Fatalf("attach mutated its input")
		}
	}
}

func TestAttachCovariateSkipsAttachedSubjects(t *testing.T) {
	src := NewSource(42)
	table, err := SimulateCohort(src, hungrySpec(), 1)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	noise := domain.NoiseSpec{Mean: 0.10, StdDev: 0.02}
	table, err = AttachCovariate(src, table, noise)
	if err != nil {
		t.Fatalf("first attach: %v", err)
	}
	before := make(map[int]float64)
	for _, row := range table {
		before[row.SubjectID] = *row.Covariate
	}

	// Grow the table, then attach again. Existing values must not move even
	// though every subject now has an extra outcome.
	table, err = AppendCondition(src, table, "frozen", map[domain.Group]domain.CellParams{
		"hungry": {Mean: 0.30, StdDev: 0.14},
	})
	if err != nil {
		t.Fatalf("append condition: %v", err)
	}
	table, err = AttachCovariate(src, table, noise)
	if err != nil {
		t.Fatalf("second attach: %v", err)
	}
	for _, row := range table {
		if *row.Covariate != before[row.SubjectID] {
			t.Fatalf("subject %d covariate recomputed: %v vs %v", row.SubjectID, *row.Covariate, before[row.SubjectID])
		}
	}
}

func TestAttachCovariateDrawsNothingWhenNoSubjectIsPending(t *testing.T) {
	src := NewSource(3)
	table, err := SimulateCohort(src, hungrySpec(), 1)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	noise := domain.NoiseSpec{Mean: 0.10, StdDev: 0.02}
	table, err = AttachCovariate(src, table, noise)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}

	counter := &countingSampler{inner: src}
	if _, err := AttachCovariate(counter, table, noise); err != nil {
		t.Fatalf("re-attach: %v", err)
	}
	if counter.calls != 0 {
		t.Fatalf("re-attach drew %d batches, want 0", counter.calls)
	}
}

func TestAttachCovariateOnlyTouchesPendingSubjects(t *testing.T) {
	cov := 0.77
	table := domain.Table{
		{SubjectID: 1, Condition: "cold", Group: "hungry", Outcome: 0.5, Covariate: &cov},
		{SubjectID: 2, Condition: "cold", Group: "hungry", Outcome: 0.4},
	}
	src := &scriptSampler{batches: [][]float64{{0.10}}}
	out, err := AttachCovariate(src, table, domain.NoiseSpec{Mean: 0.10, StdDev: 0.02})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	for _, row := range out {
		switch row.SubjectID {
		case 1:
			if *row.Covariate != 0.77 {
				t.Fatalf("attached subject moved to %v", *row.Covariate)
			}
		case 2:
			if row.Covariate == nil || math.Abs(*row.Covariate-0.50) > 1e-12 {
				t.Fatalf("pending subject covariate %v, want 0.50", row.Covariate)
			}
		}
	}
}

func TestAttachCovariateRejectsBadInput(t *testing.T) {
	src := NewSource(1)
	if _, err := AttachCovariate(src, domain.Table{}, domain.NoiseSpec{Mean: 0.1, StdDev: 0.02}); !isConfigError(err) {
		t.Fatalf("empty table: %v", err)
	}
	table := domain.Table{{SubjectID: 1, Condition: "cold", Group: "hungry", Outcome: 0.5}}
	if _, err := AttachCovariate(src, table, domain.NoiseSpec{Mean: 0.1, StdDev: 0}); !isConfigError(err) {
		t.Fatalf("bad noise: %v", err)
	}
}

func TestAttachCovariateDetectsShortBatch(t *testing.T) {
	table := domain.Table{
		{SubjectID: 1, Condition: "cold", Group: "hungry", Outcome: 0.5},
		{SubjectID: 2, Condition: "cold", Group: "hungry", Outcome: 0.4},
	}
	src := &scriptSampler{batches: [][]float64{{0.10}}}
	_, err := AttachCovariate(src, table, domain.NoiseSpec{Mean: 0.1, StdDev: 0.02})
	if !isRngError(err) {
		t.Fatalf("expected RngError, got %v", err)
	}
}

func isRngError(err error) bool {
	var rng domain.RngError
	return errors.As(err, &rng)
}
