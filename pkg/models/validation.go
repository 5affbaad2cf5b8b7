package models

import "time"

type CheckStatus string

const (
	CheckPass CheckStatus = "PASS"
	CheckWarn CheckStatus = "WARN"
	CheckFail CheckStatus = "FAIL"
	CheckSkip CheckStatus = "SKIP"
)

type Verdict string

const (
	VerdictPass Verdict = "PASS"
	VerdictFail Verdict = "FAIL"
)

type Depth string

const (
	DepthShallow Depth = "shallow"
	DepthDeep    Depth = "deep"
)

type CheckResult struct {
	Name   string      `json:"name"`
	Status CheckStatus `json:"status"`
	Detail string      `json:"detail,omitempty"`
}

// ValidationReport is the ephemeral result of validating one archive.
type ValidationReport struct {
	Archive   string        `json:"archive"`
	Depth     Depth         `json:"depth"`
	CheckedAt time.Time     `json:"checked_at"`
	Checks    []CheckResult `json:"checks"`
	Missing   []string      `json:"missing,omitempty"`
	Corrupt   []string      `json:"corrupt,omitempty"`
	Manifest  *Manifest     `json:"manifest,omitempty"`
}

func NewValidationReport(archive string, depth Depth) *ValidationReport {
	return &ValidationReport{
		Archive:   archive,
		Depth:     depth,
		CheckedAt: time.Now(),
		Checks:    []CheckResult{},
	}
}

func (r *ValidationReport) Add(name string, status CheckStatus, detail string) {
	r.Checks = append(r.Checks, CheckResult{Name: name, Status: status, Detail: detail})
}

func (r *ValidationReport) Pass(name, detail string) { r.Add(name, CheckPass, detail) }
func (r *ValidationReport) Warn(name, detail string) { r.Add(name, CheckWarn, detail) }
func (r *ValidationReport) Fail(name, detail string) { r.Add(name, CheckFail, detail) }
func (r *ValidationReport) Skip(name, detail string) { r.Add(name, CheckSkip, detail) }

func (r *ValidationReport) Verdict() Verdict {
	for _, c := range r.Checks {
		if c.Status == CheckFail {
			return VerdictFail
		}
	}
	return VerdictPass
}

func (r *ValidationReport) Warnings() []CheckResult {
	return r.filter(CheckWarn)
}

func (r *ValidationReport) Failures() []CheckResult {
	return r.filter(CheckFail)
}

func (r *ValidationReport) Check(name string) (CheckResult, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return CheckResult{}, false
}

func (r *ValidationReport) filter(status CheckStatus) []CheckResult {
	var out []CheckResult
	for _, c := range r.Checks {
		if c.Status == status {
			out = append(out, c)
		}
	}
	return out
}

// ExitCode maps the report to 0 (clean pass), 1 (pass with warnings) or 2.
func (r *ValidationReport) ExitCode() int {
	if r.Verdict() == VerdictFail {
		return ExitFailure
	}
	if len(r.Warnings()) > 0 {
		return ExitWarning
	}
	return ExitOK
}
