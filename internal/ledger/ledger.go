// Package ledger holds the pure credit-accounting rules shared by the
// store's submit and complete transactions.
package ledger

import "fmt"

// CalculateCost is the job cost formula: cost = 5 + 2*cpu + floor(ram) +
// 10*gpu + floor(timeout_s / 60). It is a pure function of its arguments,
// independent of any configured floor.
func CalculateCost(cpuRequired int, ramRequiredGB float64, gpuRequired bool, timeoutSeconds int) int {
	gpu := 0
	if gpuRequired {
		gpu = 1
	}
	cost := 5 + 2*cpuRequired + int(ramRequiredGB) + 10*gpu + timeoutSeconds/60
	return cost
}

// ApplyFloor clamps a computed cost to the configured minimum job cost. The
// §4.D formula is authoritative; min_job_cost only raises a cost that would
// otherwise fall below the floor.
func ApplyFloor(cost, minJobCost int) int {
	if cost < minJobCost {
		return minJobCost
	}
	return cost
}

// SubmitDescription builds the human-readable description recorded against
// a job_submitted transaction.
func SubmitDescription(jobTitle string, cost int) string {
	return fmt.Sprintf("submitted %q for %d credits", jobTitle, cost)
}

// CompletionDescription builds the description recorded against a
// job_completed transaction.
func CompletionDescription(jobTitle string, reward int) string {
	return fmt.Sprintf("completed %q, earned %d credits", jobTitle, reward)
}
