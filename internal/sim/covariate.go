package sim

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"studycore/pkg/domain"
)

// AttachCovariate derives a subject-level covariate for every subject that
// does not have one yet: the mean of the subject's current outcomes plus one
// noise draw. Noise is drawn as a single batch, one value per pending
// subject in ascending subject order.
//
// Subjects that already carry a covariate are never touched. The value
// permanently reflects the conditions that existed at attachment time;
// conditions appended later do not feed back into it. Attaching when no
// subject is pending draws nothing, so replays stay aligned.
func AttachCovariate(src NormalSampler, table domain.Table, noise domain.NoiseSpec) (domain.Table, error) {
	const op = "attach_covariate"
	if len(table) == 0 {
		return nil, domain.ConfigError{Op: op, Msg: "table is empty"}
	}
	if err := noise.Validate(); err != nil {
		return nil, err
	}

	attached := subjectCovariates(table)
	outcomes := make(map[int][]float64)
	var pending []int
	for _, row := range table {
		if _, ok := attached[row.SubjectID]; ok {
			continue
		}
		if _, ok := outcomes[row.SubjectID]; !ok {
			pending = append(pending, row.SubjectID)
		}
		outcomes[row.SubjectID] = append(outcomes[row.SubjectID], row.Outcome)
	}
	if len(pending) == 0 {
		return table.Clone(), nil
	}
	sort.Ints(pending)

	draws, err := src.Normal(noise.Mean, noise.StdDev, len(pending))
	if err != nil {
		return nil, err
	}
	if len(draws) != len(pending) {
		return nil, domain.RngError{Op: op, Msg: fmt.Sprintf("sampler returned %d draws for %d subjects", len(draws), len(pending))}
	}

	values := make(map[int]float64, len(pending))
	for k, id := range pending {
		values[id] = stat.Mean(outcomes[id], nil) + draws[k]
	}

	out := table.Clone()
	for i := range out {
		if v, ok := values[out[i].SubjectID]; ok {
			value := v
			out[i].Covariate = &value
		}
	}
	return out, nil
}
