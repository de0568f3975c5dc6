package parser

import (
	"bytes"
	"context"
	"testing"
)

// benchLedger is a representative slice of a real ledger: options, opens
// with constraints, transactions with costs, prices, tags, metadata, a pad
// and its balance assertion, and a query.
var benchLedger = []byte(`option "title" "Benchmark Ledger"
option "operating_currency" "USD"

2020-01-01 open Assets:US:Checking USD
2020-01-01 open Assets:US:Brokerage
2020-01-01 open Income:US:Salary USD
2020-01-01 open Expenses:Food USD
2020-01-01 open Equity:Opening-Balances

2020-01-01 commodity USD
  name: "US Dollar"

2020-01-01 pad Assets:US:Checking Equity:Opening-Balances
2020-01-10 balance Assets:US:Checking 2500.00 USD

2020-01-15 * "Acme Corp" "Salary" #salary ^jan-payroll
  Assets:US:Checking  3000.00 USD
  Income:US:Salary

2020-01-16 * "Grocer" "Weekly shop"
  Expenses:Food  84.35 USD
  Assets:US:Checking

2020-01-20 * "Broker" "Buy index fund"
  Assets:US:Brokerage  10 VTSAX {85.30 USD}
  Assets:US:Checking  -853.00 USD
    note: "auto-invest"

2020-01-21 price VTSAX 86.10 USD

2020-01-31 query "food" "SELECT sum(position) WHERE account ~ 'Expenses:Food'"
`)

func BenchmarkParseLedger(b *testing.B) {
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := ParseBytes(ctx, benchLedger)
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkParseLargeLedger(b *testing.B) {
	// Repeat the representative slice to approximate a year-sized file.
	data := bytes.Repeat(benchLedger, 50)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tree, err := ParseBytes(ctx, data)
		if err != nil {
			b.Fatal(err)
		}
		if len(tree.Directives) == 0 {
			b.Fatal("no directives parsed")
		}
	}
}
