package scrape

// symbolTable maps a displayed grade symbol to its decimal value. A "+"
// adds a quarter point, "½" adds half, and "-" takes a quarter off the
// next integer, matching how the upstream renders intermediate marks.
var symbolTable = map[string]float64{
	"1": 1, "1+": 1.25, "1½": 1.5, "2-": 1.75, "2": 2, "2+": 2.25, "2½": 2.5,
	"3-": 2.75, "3": 3, "3+": 3.25, "3½": 3.5, "4-": 3.75, "4": 4, "4+": 4.25,
	"4½": 4.5, "5-": 4.75, "5": 5, "5+": 5.25, "5½": 5.5, "6-": 5.75, "6": 6,
	"6+": 6.25, "6½": 6.5, "7-": 6.75, "7": 7, "7+": 7.25, "7½": 7.5, "8-": 7.75,
	"8": 8, "8+": 8.25, "8½": 8.5, "9-": 8.75, "9": 9, "9+": 9.25, "9½": 9.5,
	"10-": 9.75, "10": 10,
}

// SymbolToDecimal converts a displayed grade symbol to its numeric
// value. Unknown symbols (non-numeric annotations like "A" for absent)
// map to 0 with ok false.
func SymbolToDecimal(symbol string) (value float64, ok bool) {
	value, ok = symbolTable[symbol]

	return value, ok
}
