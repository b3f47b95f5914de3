package record

import (
	"strconv"
	"strings"
)

// ParseMoneyBR parses Brazilian currency notation into a float:
// "R$ 150.000,00" -> 150000.00. Plain decimal strings ("150000.00")
// are accepted too, since source APIs mix both forms.
func ParseMoneyBR(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "R$")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	dot := strings.LastIndex(s, ".")
	comma := strings.LastIndex(s, ",")
	switch {
	case comma > dot:
		// Brazilian form: dots group thousands, comma is the decimal
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case comma >= 0:
		// Comma groups thousands in an already anglicized value
		s = strings.ReplaceAll(s, ",", "")
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
