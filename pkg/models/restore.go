package models

import "time"

type RestoreStage string

const (
	StageValidate        RestoreStage = "VALIDATE"
	StageExtract         RestoreStage = "EXTRACT"
	StageRestoreDataDirs RestoreStage = "RESTORE_DATA_DIRS"
	StageRestoreDatabase RestoreStage = "RESTORE_DATABASE"
	StageRestoreConfig   RestoreStage = "RESTORE_CONFIG"
	StageRestoreTLS      RestoreStage = "RESTORE_TLS"
	StageFixPermissions  RestoreStage = "FIX_PERMISSIONS"
	StageVerifyConfig    RestoreStage = "VERIFY_CONFIG"
	StageDone            RestoreStage = "DONE"
)

// RestoreStages is the fixed execution order.
var RestoreStages = []RestoreStage{
	StageValidate,
	StageExtract,
	StageRestoreDataDirs,
	StageRestoreDatabase,
	StageRestoreConfig,
	StageRestoreTLS,
	StageFixPermissions,
	StageVerifyConfig,
	StageDone,
}

type StageState string

const (
	StatePending   StageState = "pending"
	StateRunning   StageState = "running"
	StateCompleted StageState = "completed"
	StateSkipped   StageState = "skipped"
	StateFailed    StageState = "failed"
)

type StageStatus struct {
	Stage     RestoreStage  `json:"stage"`
	State     StageState    `json:"state"`
	Detail    string        `json:"detail,omitempty"`
	StartedAt time.Time     `json:"started_at,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// RestoreTarget describes where a restore lands on the local host.
type RestoreTarget struct {
	DataDir      string `json:"data_dir"`
	DatabasePath string `json:"database_path"`
	ConfigDir    string `json:"config_dir"`
	TLSDir       string `json:"tls_dir"`
	UID          int    `json:"uid"`
	GID          int    `json:"gid"`
}

type RestorePlan struct {
	Archive    string        `json:"archive"`
	Target     RestoreTarget `json:"target"`
	Stages     []StageStatus `json:"stages"`
	Advisories []string      `json:"advisories,omitempty"`
	Method     string        `json:"method,omitempty"`
}

func NewRestorePlan(archive string, target RestoreTarget) *RestorePlan {
	plan := &RestorePlan{
		Archive: archive,
		Target:  target,
		Stages:  make([]StageStatus, 0, len(RestoreStages)),
	}
	for _, s := range RestoreStages {
		plan.Stages = append(plan.Stages, StageStatus{Stage: s, State: StatePending})
	}
	return plan
}

func (p *RestorePlan) status(stage RestoreStage) *StageStatus {
	for i := range p.Stages {
		if p.Stages[i].Stage == stage {
			return &p.Stages[i]
		}
	}
	return nil
}

func (p *RestorePlan) Start(stage RestoreStage) {
	if s := p.status(stage); s != nil {
		s.State = StateRunning
		s.StartedAt = time.Now()
	}
}

func (p *RestorePlan) Finish(stage RestoreStage, state StageState, detail string) {
	s := p.status(stage)
	if s == nil {
		return
	}
	s.State = state
	s.Detail = detail
	if !s.StartedAt.IsZero() {
		s.Duration = time.Since(s.StartedAt)
	}
}

func (p *RestorePlan) State(stage RestoreStage) StageState {
	if s := p.status(stage); s != nil {
		return s.State
	}
	return ""
}

func (p *RestorePlan) Completed() bool {
	return p.State(StageDone) == StateCompleted
}

// FailedStage returns the first failed stage, or "" when none failed.
func (p *RestorePlan) FailedStage() RestoreStage {
	for _, s := range p.Stages {
		if s.State == StateFailed {
			return s.Stage
		}
	}
	return ""
}

func (p *RestorePlan) Advise(msg string) {
	p.Advisories = append(p.Advisories, msg)
}

func (p *RestorePlan) ExitCode() int {
	if !p.Completed() {
		return ExitFailure
	}
	return ExitOK
}
