package spec

import "time"

// Built-in mode names.
const (
	ModeValidator  = "validator"
	ModeComparator = "comparator"
	ModeBenchmark  = "benchmark"
)

// ValidatorSpec builds generator -> candidate -> judge. The judge receives the
// generated input and the candidate output as file arguments.
func ValidatorSpec(generator, candidate, judge []string) PipelineSpec {
	return PipelineSpec{
		Mode: ModeValidator,
		Stages: []StageSpec{
			{Role: RoleGenerator, Command: generator, Timeout: 10 * time.Second},
			{Role: RoleCandidate, Command: candidate, Timeout: 30 * time.Second, Stdin: RoleGenerator},
			{Role: RoleJudge, Command: judge, Timeout: 10 * time.Second, ArgFiles: []Role{RoleGenerator, RoleCandidate}},
		},
		Policy:        PolicyJudge,
		MaxWorkersCap: 8,
	}
}

// ComparatorSpec builds generator -> candidate -> reference and compares outputs.
func ComparatorSpec(generator, candidate, reference []string) PipelineSpec {
	return PipelineSpec{
		Mode: ModeComparator,
		Stages: []StageSpec{
			{Role: RoleGenerator, Command: generator, Timeout: 10 * time.Second},
			{Role: RoleCandidate, Command: candidate, Timeout: 30 * time.Second, Stdin: RoleGenerator},
			{Role: RoleReference, Command: reference, Timeout: 30 * time.Second, Stdin: RoleGenerator},
		},
		Policy:        PolicyDiff,
		Compare:       CompareTrimmed,
		CandidateRole: RoleCandidate,
		ReferenceRole: RoleReference,
		MaxWorkersCap: 6,
	}
}

// BenchmarkSpec builds generator -> candidate where the candidate timeout is the time limit.
func BenchmarkSpec(generator, candidate []string, timeLimit time.Duration, memoryLimitBytes int64) PipelineSpec {
	return PipelineSpec{
		Mode: ModeBenchmark,
		Stages: []StageSpec{
			{Role: RoleGenerator, Command: generator, Timeout: 10 * time.Second},
			{Role: RoleCandidate, Command: candidate, Timeout: timeLimit, Stdin: RoleGenerator},
		},
		Policy:           PolicyBenchmark,
		CandidateRole:    RoleCandidate,
		MemoryLimitBytes: memoryLimitBytes,
		MaxWorkersCap:    4,
	}
}
