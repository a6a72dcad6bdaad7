package model

import "github.com/shopspring/decimal"

// RiskConfig bounds the Risk Manager's pre-trade gate and continuous
// evaluation (spec §3, §4.8).
type RiskConfig struct {
	MaxTotalBudget            decimal.Decimal
	MaxLeveragePerTrader      decimal.Decimal
	MaxTotalLeverage          decimal.Decimal
	MaxExposurePerTrader      decimal.Decimal
	MaxTotalExposure          decimal.Decimal
	MaxDailyLoss              decimal.Decimal // rolling 24h
	StopLossPercentage        decimal.Decimal // default when signal omits
	MonitoringIntervalSeconds int             // > 0
	WarnThreshold             float64         // RiskScore composite threshold for Warn
	BlockThreshold            float64         // RiskScore composite threshold for Block
	MaxConsecutiveLosses      int             // circuit-breaker trip threshold; <= 0 disables
}

// Validate enforces the RiskConfig invariants implied by spec §4.8.
func (c RiskConfig) Validate() error {
	if c.MonitoringIntervalSeconds <= 0 {
		return &InvalidConfigError{Field: "monitoringIntervalSeconds", Reason: "must be > 0"}
	}
	if c.MaxTotalBudget.LessThanOrEqual(decimal.Zero) {
		return &InvalidConfigError{Field: "maxTotalBudget", Reason: "must be > 0"}
	}
	return nil
}

// RiskViolationKind tags the variant of a RiskViolation.
type RiskViolationKind string

const (
	ViolationBudgetExceeded      RiskViolationKind = "BUDGET_EXCEEDED"
	ViolationLeverageExceeded    RiskViolationKind = "LEVERAGE_EXCEEDED"
	ViolationExposureExceeded    RiskViolationKind = "EXPOSURE_EXCEEDED"
	ViolationDailyLossExceeded   RiskViolationKind = "DAILY_LOSS_EXCEEDED"
	ViolationEmergencyStopActive RiskViolationKind = "EMERGENCY_STOP_ACTIVE"
)

// RiskViolation is a tagged variant carrying enough detail to render
// user-facing explanations (spec §3): the requesting trader id, which bound,
// and the requested/permitted values.
type RiskViolation struct {
	Kind      RiskViolationKind
	TraderID  string // requesting trader; may be "" for a global violation
	Scope     string // for ExposureExceeded: "trader" or "global"
	Required  decimal.Decimal
	Available decimal.Decimal
	Requested decimal.Decimal
	Max       decimal.Decimal
	Loss      decimal.Decimal
	Detail    string // for EmergencyStopActive: the circuit-breaker trip reason, if any
}

func (v RiskViolation) Error() string {
	switch v.Kind {
	case ViolationBudgetExceeded:
		return "budget exceeded: required " + v.Required.String() + " available " + v.Available.String()
	case ViolationLeverageExceeded:
		return "leverage exceeded: requested " + v.Requested.String() + " max " + v.Max.String()
	case ViolationExposureExceeded:
		return "exposure exceeded (" + v.Scope + "): requested " + v.Requested.String() + " max " + v.Max.String()
	case ViolationDailyLossExceeded:
		return "daily loss exceeded: loss " + v.Loss.String() + " max " + v.Max.String()
	case ViolationEmergencyStopActive:
		suffix := ""
		if v.Detail != "" {
			suffix = " (" + v.Detail + ")"
		}
		if v.TraderID != "" {
			return "emergency stop active for trader " + v.TraderID + suffix
		}
		return "emergency stop active globally" + suffix
	default:
		return "risk violation"
	}
}

// RiskRecommendation is the continuous-evaluation verdict (spec §3, §4.8).
type RiskRecommendation string

const (
	RecommendAllow        RiskRecommendation = "ALLOW"
	RecommendWarn         RiskRecommendation = "WARN"
	RecommendBlock        RiskRecommendation = "BLOCK"
	RecommendEmergencyStop RiskRecommendation = "EMERGENCY_STOP"
)

// RiskScore is the composite result of checkRiskLimits (spec §3).
type RiskScore struct {
	BudgetScore    float64 // [0,1]
	LeverageScore  float64 // [0,1]
	ExposureScore  float64 // [0,1]
	PnLScore       float64 // [0,1]; only losses contribute
	Recommendation RiskRecommendation
}

// Composite is the simple mean of the four subscores, used to compare
// against WarnThreshold/BlockThreshold.
func (s RiskScore) Composite() float64 {
	return (s.BudgetScore + s.LeverageScore + s.ExposureScore + s.PnLScore) / 4
}
