package gateway

import (
	"fmt"
	"strings"
)

// BankCodes maps supported bank names to their clearing codes, which prefix
// locally generated virtual account numbers.
var BankCodes = map[string]string{
	"bca":     "014",
	"bni":     "009",
	"bri":     "002",
	"mandiri": "008",
	"permata": "013",
	"cimb":    "022",
	"bsi":     "451",
	"danamon": "011",
}

// VirtualAccountNumber is the bank code, the order id modulo 10^8 padded to
// eight digits and a check digit. The check digit weights the digits 1,2,1,2
// from the left, folds products above 9 and takes (10 - sum mod 10) mod 10.
func VirtualAccountNumber(bank string, orderID int64) (string, error) {
	code, ok := BankCodes[strings.ToLower(strings.TrimSpace(bank))]
	if !ok {
		return "", fmt.Errorf("unsupported bank %q", bank)
	}
	if orderID < 0 {
		orderID = -orderID
	}
	body := code + fmt.Sprintf("%08d", orderID%100_000_000)
	return body + fmt.Sprintf("%d", checkDigit(body)), nil
}

func checkDigit(digits string) int {
	sum := 0
	for i, r := range digits {
		v := int(r - '0')
		if i%2 == 1 {
			v *= 2
			if v > 9 {
				v -= 9
			}
		}
		sum += v
	}
	return (10 - sum%10) % 10
}
