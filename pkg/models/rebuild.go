package models

type PreflightCheck struct {
	Name   string      `json:"name"`
	Status CheckStatus `json:"status"`
	Detail string      `json:"detail,omitempty"`
}

type RebuildOutcome struct {
	Preflight   []PreflightCheck `json:"preflight"`
	Provisioned bool             `json:"provisioned"`
	Plan        *RestorePlan     `json:"plan,omitempty"`
	CutoverDone bool             `json:"cutover_done"`
	ServicesUp  bool             `json:"services_up"`
	Healthy     bool             `json:"healthy"`
	HealthURL   string           `json:"health_url,omitempty"`
	Error       string           `json:"error,omitempty"`
}

func (o *RebuildOutcome) ExitCode() int {
	switch {
	case o.Plan == nil || !o.Plan.Completed() || !o.ServicesUp:
		return ExitFailure
	case !o.Healthy:
		return ExitWarning
	default:
		return ExitOK
	}
}
