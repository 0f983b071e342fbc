package http

import (
	"time"

	"github.com/meridian-fin/meridian-consol/internal/consol"
	"github.com/meridian-fin/meridian-consol/internal/money"
)

// StepVM is the wire form of one run step.
type StepVM struct {
	Name         string     `json:"name"`
	Status       string     `json:"status"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// RunVM is the wire form of a consolidation run.
type RunVM struct {
	ID                  string            `json:"id"`
	GroupID             string            `json:"group_id"`
	Period              string            `json:"period"`
	AsOf                string            `json:"as_of"`
	Status              string            `json:"status"`
	ProgressPercent     float64           `json:"progress_percent"`
	Steps               []StepVM          `json:"steps"`
	Options             consol.RunOptions `json:"options"`
	EliminationEntryIDs []string          `json:"elimination_entry_ids,omitempty"`
	ErrorMessage        string            `json:"error_message,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	StartedAt           *time.Time        `json:"started_at,omitempty"`
	CompletedAt         *time.Time        `json:"completed_at,omitempty"`
}

// RunFromDomain converts a run for JSON transport.
func RunFromDomain(run *consol.Run) RunVM {
	vm := RunVM{
		ID:              run.ID.String(),
		GroupID:         run.GroupID.String(),
		Period:          run.Period,
		AsOf:            run.AsOf.Format("2006-01-02"),
		Status:          string(run.Status),
		ProgressPercent: run.ProgressPercent(),
		Options:         run.Options,
		ErrorMessage:    run.ErrorMessage,
		CreatedAt:       run.CreatedAt,
		StartedAt:       run.StartedAt,
		CompletedAt:     run.CompletedAt,
	}
	for _, step := range run.Steps {
		vm.Steps = append(vm.Steps, StepVM{
			Name:         string(step.Name),
			Status:       string(step.Status),
			StartedAt:    step.StartedAt,
			CompletedAt:  step.CompletedAt,
			ErrorMessage: step.ErrorMessage,
		})
	}
	for _, id := range run.EliminationEntryIDs {
		vm.EliminationEntryIDs = append(vm.EliminationEntryIDs, id.String())
	}
	return vm
}

// TrialBalanceLineVM is the wire form of one consolidated line.
type TrialBalanceLineVM struct {
	AccountNumber       string       `json:"account_number"`
	AccountName         string       `json:"account_name"`
	AggregatedBalance   money.Money  `json:"aggregated_balance"`
	EliminationAmount   money.Money  `json:"elimination_amount"`
	NCIAmount           *money.Money `json:"nci_amount,omitempty"`
	ConsolidatedBalance money.Money  `json:"consolidated_balance"`
}

// TrialBalanceVM is the wire form of the consolidated trial balance.
type TrialBalanceVM struct {
	GroupID           string               `json:"group_id"`
	GroupName         string               `json:"group_name"`
	Period            string               `json:"period"`
	ReportingCurrency string               `json:"reporting_currency"`
	Lines             []TrialBalanceLineVM `json:"lines"`
	TotalDebits       money.Money          `json:"total_debits"`
	TotalCredits      money.Money          `json:"total_credits"`
	TotalEliminations money.Money          `json:"total_eliminations"`
	TotalNCI          money.Money          `json:"total_nci"`
	Balanced          bool                 `json:"balanced"`
	Refreshed         time.Time            `json:"refreshed"`
}

// TrialBalanceFromDomain converts the trial balance for JSON transport.
func TrialBalanceFromDomain(tb *consol.TrialBalance) TrialBalanceVM {
	vm := TrialBalanceVM{
		GroupID:           tb.GroupID.String(),
		GroupName:         tb.GroupName,
		Period:            tb.Period,
		ReportingCurrency: tb.ReportingCurrency,
		TotalDebits:       tb.Totals.TotalDebits,
		TotalCredits:      tb.Totals.TotalCredits,
		TotalEliminations: tb.Totals.TotalEliminations,
		TotalNCI:          tb.Totals.TotalNCI,
		Balanced:          tb.Totals.Balanced,
		Refreshed:         tb.Totals.Refreshed,
	}
	for _, line := range tb.Lines {
		vm.Lines = append(vm.Lines, TrialBalanceLineVM{
			AccountNumber:       line.AccountNumber,
			AccountName:         line.AccountName,
			AggregatedBalance:   line.AggregatedBalance,
			EliminationAmount:   line.EliminationAmount,
			NCIAmount:           line.NCIAmount,
			ConsolidatedBalance: line.ConsolidatedBalance,
		})
	}
	return vm
}
