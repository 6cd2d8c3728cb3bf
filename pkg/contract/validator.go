package contract

import "fmt"

// ValidateResult 校验 LookupResult 的可用性不变量（纯函数，无 I/O）。
func ValidateResult(r LookupResult) error {
	if r.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvariantViolation)
	}
	if r.Available {
		if r.NSFW == nil || r.CanonicalName == nil || r.Subscribers == nil {
			return fmt.Errorf("%w: available result %q missing metadata", ErrInvariantViolation, r.Name)
		}
		return nil
	}
	if r.NSFW != nil || r.CanonicalName != nil || r.Subscribers != nil {
		return fmt.Errorf("%w: unavailable result %q carries metadata", ErrInvariantViolation, r.Name)
	}
	return nil
}
