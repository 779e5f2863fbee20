package domain

import "time"

// SecuritySetupState records how far a user's custodial wallet has progressed
// toward trade-readiness. Each flag is set exactly once by the configurator
// and can be re-derived from chain state at any time.
type SecuritySetupState struct {
	UserID          string
	ModuleEnabled   bool // withdrawal module enabled on the custodial wallet
	UserAuthorized  bool // primary address authorized for withdrawal
	GuardInstalled  bool // trade-restricting guard installed
	CompletedAt     *time.Time
	UpdatedAt       time.Time
}

// Complete reports whether all three setup steps have landed on chain.
func (s SecuritySetupState) Complete() bool {
	return s.ModuleEnabled && s.UserAuthorized && s.GuardInstalled
}

// SetupStep identifies one step of the security setup sequence.
type SetupStep string

const (
	StepEnableModule  SetupStep = "enable_module"
	StepAuthorizeUser SetupStep = "authorize_user"
	StepInstallGuard  SetupStep = "install_guard"
)

// StepStatus is the tagged outcome of one idempotent setup step.
type StepStatus string

const (
	// StepExecuted: a transaction was sent and confirmed this run.
	StepExecuted StepStatus = "executed"
	// StepAlreadySatisfied: chain state already matched; nothing was sent.
	StepAlreadySatisfied StepStatus = "already_satisfied"
	// StepFailed: the step errored; subsequent steps were not attempted.
	StepFailed StepStatus = "failed"
)

// StepResult reports what one setup step did, replacing string sentinels like
// "already-approved" with an explicit tagged type.
type StepResult struct {
	Step   SetupStep
	Status StepStatus
	TxRef  string // transaction hash when Status == StepExecuted
	Err    error  // cause when Status == StepFailed
}
