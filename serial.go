package sctp

// Serial Number Arithmetic (RFC 1982). TSNs, SSNs and RSNs wrap around
// their unsigned range, so plain comparison operators must not be used on
// them anywhere in this package.

// sna32LT reports a < b in serial order: a != b and (b - a) mod 2^32 < 2^31.
func sna32LT(a, b uint32) bool {
	return (a < b && b-a < 1<<31) || (a > b && a-b > 1<<31)
}

func sna32LTE(a, b uint32) bool {
	return a == b || sna32LT(a, b)
}

func sna32GT(a, b uint32) bool {
	return sna32LT(b, a)
}

func sna32GTE(a, b uint32) bool {
	return a == b || sna32GT(a, b)
}

func sna16LT(a, b uint16) bool {
	return (a < b && b-a < 1<<15) || (a > b && a-b > 1<<15)
}

func sna16GT(a, b uint16) bool {
	return sna16LT(b, a)
}
