package db

import (
	"database/sql/driver"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"modernc.org/sqlite"
)

// FoldFunc is the SQL function that case-folds text for search. SQLite's LIKE
// and lower() only fold ASCII letters.
const FoldFunc = "fold"

func init() {
	sqlite.MustRegisterDeterministicScalarFunction(FoldFunc, 1, foldValue)
}

// Fold returns s in NFC with full Unicode case folding, so "CAFÉ" and "café"
// (composed or decomposed) compare equal.
func Fold(s string) string {
	// A Caser keeps state, so each call gets its own
	return cases.Fold().String(norm.NFC.String(s))
}

func foldValue(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case string:
		return Fold(v), nil
	case []byte:
		return Fold(string(v)), nil
	default:
		// NULL stays NULL so instr() never matches it
		return v, nil
	}
}
