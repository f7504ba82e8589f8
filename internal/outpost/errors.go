package outpost

import "errors"

var (
	ErrPurchaseCooldown  = errors.New("participant still in cooldown to buy more goods")
	ErrInsufficientCredz = errors.New("insufficient credz")
	ErrAlreadyExists     = errors.New("outpost already exists")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrOverflow          = errors.New("arithmetic overflow")
	ErrUnderflow         = errors.New("arithmetic underflow")

	ErrDestroyed        = errors.New("outpost destroyed")
	ErrNotFound         = errors.New("outpost not found")
	ErrInvalidIdentity  = errors.New("invalid identity")
	ErrInvalidGoodsSize = errors.New("invalid goods size")
)

// Kind returns a short stable name for err, used on the wire.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPurchaseCooldown):
		return "PurchaseCooldown"
	case errors.Is(err, ErrInsufficientCredz):
		return "InsufficientCredz"
	case errors.Is(err, ErrAlreadyExists):
		return "AlreadyExists"
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, ErrOverflow):
		return "Overflow"
	case errors.Is(err, ErrUnderflow):
		return "Underflow"
	case errors.Is(err, ErrDestroyed):
		return "Destroyed"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrInvalidIdentity):
		return "InvalidIdentity"
	case errors.Is(err, ErrInvalidGoodsSize):
		return "InvalidGoodsSize"
	}
	return "Internal"
}
