package http

import (
	"bytes"
	"encoding/csv"
	"net/http"

	"github.com/meridian-fin/meridian-consol/internal/consol"
	"github.com/meridian-fin/meridian-consol/internal/money"
)

// writeTrialBalanceCSV streams the consolidated trial balance as CSV. Amounts
// are fixed to two decimals in the group reporting currency.
func writeTrialBalanceCSV(w http.ResponseWriter, tb *consol.TrialBalance) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	_ = writer.Write([]string{"Account", "Name", "Aggregated", "Eliminations", "NCI", "Consolidated"})
	for _, line := range tb.Lines {
		nci := ""
		if line.NCIAmount != nil {
			nci = fixed(*line.NCIAmount)
		}
		_ = writer.Write([]string{
			line.AccountNumber,
			line.AccountName,
			fixed(line.AggregatedBalance),
			fixed(line.EliminationAmount),
			nci,
			fixed(line.ConsolidatedBalance),
		})
	}
	_ = writer.Write([]string{
		"TOTAL", "",
		fixed(tb.Totals.TotalDebits),
		fixed(tb.Totals.TotalEliminations),
		fixed(tb.Totals.TotalNCI),
		fixed(tb.Totals.TotalCredits),
	})
	writer.Flush()

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=consolidated_tb_"+tb.Period+".csv")
	_, _ = w.Write(buf.Bytes())
}

func fixed(m money.Money) string {
	return m.Amount().StringFixed(2)
}
