package factory

import "fmt"

// =============================================================================
// PRESETS - Common HR compensation rules
// =============================================================================
//
// Each preset returns a JSON definition so callers go through the same
// parsing and validation path as user-supplied rules.

// LateArrivalJSON deducts amount once an employee is late count times in a month.
func LateArrivalJSON(name string, count int, amount string) string {
	return fmt.Sprintf(`{
  "name": %q,
  "description": "Deduct %s after %d late arrivals in a month",
  "conditions": {"trigger": "late_arrival", "operator": ">=", "count": %d, "window": "month", "expression": "count >= %d"},
  "actions": [{"type": "deduction", "amount": %q, "reason": "Repeated late arrival"}]
}`, name, amount, count, count, count, amount)
}

// AbsenceDeductionJSON deducts amount for each unexcused absence.
func AbsenceDeductionJSON(name string, amount string) string {
	return fmt.Sprintf(`{
  "name": %q,
  "description": "Deduct %s per unexcused absence",
  "conditions": {"trigger": "unexcused_absence", "operator": ">=", "count": 1, "window": "day"},
  "actions": [{"type": "salary_deduction", "amount": %q, "reason": "Unexcused absence"}]
}`, name, amount, amount)
}

// KPIBonusJSON pays amount when the monthly KPI score reaches minScore.
func KPIBonusJSON(name string, minScore float64, amount string) string {
	return fmt.Sprintf(`{
  "name": %q,
  "description": "Pay %s when the monthly KPI score reaches %.1f",
  "conditions": {"trigger": "kpi_target_met", "window": "month", "expression": "score >= %.1f"},
  "actions": [{"type": "bonus", "amount": %q, "reason": "KPI target met"}]
}`, name, amount, minScore, minScore, amount)
}

// PerfectAttendanceJSON rewards a month without late arrivals or absences.
func PerfectAttendanceJSON(name string, amount string) string {
	return fmt.Sprintf(`{
  "name": %q,
  "description": "Pay %s for a month with perfect attendance",
  "conditions": {"trigger": "perfect_attendance", "window": "month", "expression": "count == 0"},
  "actions": [{"type": "reward", "amount": %q, "reason": "Perfect attendance"}]
}`, name, amount, amount)
}
