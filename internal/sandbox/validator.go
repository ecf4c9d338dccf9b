package sandbox

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	errors "github.com/frahmantamala/checkout/internal"
)

type CardNetwork string

const (
	NetworkVisa       CardNetwork = "visa"
	NetworkMastercard CardNetwork = "mastercard"
	NetworkAmex       CardNetwork = "amex"
	NetworkRupay      CardNetwork = "rupay"
	NetworkUnknown    CardNetwork = "unknown"
)

var (
	vpaPattern        = regexp.MustCompile(`^[a-zA-Z0-9.\-_]{2,256}@[a-zA-Z]{2,64}$`)
	digitsPattern     = regexp.MustCompile(`^\d+$`)
	separatorPattern  = regexp.MustCompile(`[\s\-]`)
	mastercardPattern = regexp.MustCompile(`^(5[1-5]|2[2-7])`)
	amexPattern       = regexp.MustCompile(`^3[47]`)
	rupayPattern      = regexp.MustCompile(`^(6|81|82|508|353|356)`)
)

func ValidateVPA(vpa string) *errors.AppError {
	vpa = strings.TrimSpace(vpa)
	if vpa == "" || !vpaPattern.MatchString(vpa) {
		return errors.NewValidationError("Invalid VPA format", errors.ErrCodeInvalidVPA)
	}
	return nil
}

// CleanCardNumber strips spaces and dashes.
func CleanCardNumber(number string) string {
	return separatorPattern.ReplaceAllString(number, "")
}

// IsValidCardNumber applies the Luhn check to a 13 to 19 digit number.
func IsValidCardNumber(number string) bool {
	digits := CleanCardNumber(number)
	if !digitsPattern.MatchString(digits) || len(digits) < 13 || len(digits) > 19 {
		return false
	}

	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

func DetectNetwork(number string) CardNetwork {
	digits := CleanCardNumber(number)
	switch {
	case digits == "":
		return NetworkUnknown
	case strings.HasPrefix(digits, "4"):
		return NetworkVisa
	case mastercardPattern.MatchString(digits):
		return NetworkMastercard
	case amexPattern.MatchString(digits):
		return NetworkAmex
	case rupayPattern.MatchString(digits):
		return NetworkRupay
	}
	return NetworkUnknown
}

// IsValidExpiry accepts two or four digit years; the current month is still valid.
func IsValidExpiry(month, year string, now time.Time) bool {
	m, err := strconv.Atoi(strings.TrimSpace(month))
	if err != nil || m < 1 || m > 12 {
		return false
	}
	y, err := strconv.Atoi(strings.TrimSpace(year))
	if err != nil || y < 0 {
		return false
	}
	if y < 100 {
		y += 2000
	}
	current := now.Year()*12 + int(now.Month()) - 1
	return y*12+m-1 >= current
}

func IsValidCVV(cvv string, network CardNetwork) bool {
	if !digitsPattern.MatchString(cvv) {
		return false
	}
	if network == NetworkAmex {
		return len(cvv) == 4
	}
	return len(cvv) == 3
}

func CardLast4(number string) string {
	digits := CleanCardNumber(number)
	if len(digits) < 4 {
		return digits
	}
	return digits[len(digits)-4:]
}

type CardDetails struct {
	Number      string
	ExpiryMonth string
	ExpiryYear  string
	CVV         string
	HolderName  string
}

// ValidateCard reports the first failing check, in the order number, expiry, cvv.
func ValidateCard(card CardDetails, now time.Time) (CardNetwork, *errors.AppError) {
	if !IsValidCardNumber(card.Number) {
		return "", errors.NewValidationError("Invalid card number", errors.ErrCodeInvalidCard)
	}
	network := DetectNetwork(card.Number)
	if !IsValidExpiry(card.ExpiryMonth, card.ExpiryYear, now) {
		return network, errors.NewValidationError("Card has expired or expiry date is invalid", errors.ErrCodeExpiredCard)
	}
	if !IsValidCVV(strings.TrimSpace(card.CVV), network) {
		return network, errors.NewValidationError("Invalid CVV", errors.ErrCodeInvalidCVV)
	}
	return network, nil
}
