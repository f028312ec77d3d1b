package password

import (
	"crypto/rand"
	"math/big"
)

const (
	lowerChars  = "abcdefghijkmnpqrstuvwxyz"
	upperChars  = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	digitChars  = "23456789"
	symbolChars = "!#%+-=?@_"
)

// Generate returns a random password of length n (minimum 8) with at least
// one lower case letter, one upper case letter, one digit and one symbol. Easily
// confused characters (0/O, 1/l/I) are left out.
func Generate(n int) (string, error) {
	if n < 8 {
		n = 8
	}
	all := lowerChars + upperChars + digitChars + symbolChars
	classes := []string{lowerChars, upperChars, digitChars, symbolChars}
	out := make([]byte, n)
	for i, set := range classes {
		c, err := pick(set)
		if err != nil {
			return "", err
		}
		out[i] = c
	}
	for i := len(classes); i < n; i++ {
		c, err := pick(all)
		if err != nil {
			return "", err
		}
		out[i] = c
	}

	// Fisher-Yates so the guaranteed classes are not always in front
	for i := n - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", err
		}
		out[i], out[j.Int64()] = out[j.Int64()], out[i]
	}
	return string(out), nil
}

func pick(set string) (byte, error) {
	i, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, err
	}
	return set[i.Int64()], nil
}
