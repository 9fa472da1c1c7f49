package checkout

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"
)

const (
	orderIDPrefix     = "PP_"
	orderIDSuffixLen  = 9
	orderIDSuffixBase = 36
)

// GenerateOrderID returns PP_<unix millis>_<9 random base36 chars>.
func GenerateOrderID(now time.Time) (string, error) {
	var sb strings.Builder
	sb.Grow(orderIDSuffixLen)

	max := big.NewInt(orderIDSuffixBase)
	for i := 0; i < orderIDSuffixLen; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate order id: %w", err)
		}
		sb.WriteString(n.Text(orderIDSuffixBase))
	}

	return fmt.Sprintf("%s%d_%s", orderIDPrefix, now.UnixMilli(), sb.String()), nil
}
